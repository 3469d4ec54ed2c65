// Command pierre wires the audio-frame pipeline together: master
// clock, anchor, cipher, decoder, DSP pool, spooler, rack, render
// loop, and remote bridge. The RTSP/pairing control plane that would
// normally hand a live audio socket and session key to this process
// is out of scope; this binary instead listens on a plain TCP port
// for the audio handoff and reads the cipher key from config, as a
// stand-in for that boundary (spec §7).
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pierre-lights/pierre/internal/anchor"
	"github.com/pierre-lights/pierre/internal/cipher"
	"github.com/pierre-lights/pierre/internal/clock"
	"github.com/pierre-lights/pierre/internal/config"
	"github.com/pierre-lights/pierre/internal/decode"
	"github.com/pierre-lights/pierre/internal/dsp"
	"github.com/pierre-lights/pierre/internal/fx"
	"github.com/pierre-lights/pierre/internal/logging"
	"github.com/pierre-lights/pierre/internal/metrics"
	"github.com/pierre-lights/pierre/internal/rack"
	"github.com/pierre-lights/pierre/internal/remote"
	"github.com/pierre-lights/pierre/internal/render"
	"github.com/pierre-lights/pierre/internal/spool"
)

func main() {
	fs := flag.NewFlagSet("pierre", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a key=value config file")
	logLevel := fs.String("log-level", "info", "debug|info|warn|error")
	logPretty := fs.Bool("log-pretty", false, "human-readable console log output")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:  logging.ParseLevel(*logLevel),
		Pretty: *logPretty,
	}, "")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	key, err := cipherKey(cfg.Audio.CipherKeyHex)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load cipher key")
		os.Exit(1)
	}
	cph, err := cipher.New(key)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build cipher")
		os.Exit(1)
	}

	mc := clock.New(cfg.ShmName())
	if err := mc.Open(); err != nil {
		logger.Error().Err(err).Msg("failed to open master clock")
		os.Exit(1)
	}
	defer mc.Teardown()

	sink := metrics.NewNopSink()
	if cfg.Stats.Enabled {
		sink = metrics.NewLogSink(logger)
	}

	anc := anchor.New()
	rk := rack.New(cfg.Frame.RackHighWater, cfg.Frame.RackLowWater, sink)
	bridge := remote.New(cfg.Remote.Host, cfg.Remote.Port, sink, logger)
	effect := fx.Passthrough{}

	loop := render.New(mc, anc, rk, effect, bridge, cfg.Frame.RenderLeadTime, sink, logger)

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutdown requested")
		cancel()
	}()

	go bridge.Run(ctx)
	go loop.Run(ctx)

	listener, err := net.Listen("tcp", cfg.Audio.ListenAddr)
	if err != nil {
		logger.Error().Err(err).Str("addr", cfg.Audio.ListenAddr).Msg("failed to open audio listener")
		os.Exit(1)
	}
	logger.Info().Str("addr", cfg.Audio.ListenAddr).Msg("ready - waiting for audio session")

	sessions := acceptSessions(ctx, listener, logger)

	for {
		select {
		case <-ctx.Done():
			shutdown(listener, rk, logger)
			return
		case conn, ok := <-sessions:
			if !ok {
				shutdown(listener, rk, logger)
				return
			}
			go runSession(ctx, conn, cph, rk, cfg, sink, logger)
		}
	}
}

// runSession builds a per-connection Spooler + DSP pool and drains the
// socket until it closes or ctx is cancelled.
func runSession(ctx context.Context, conn net.Conn, cph *cipher.Cipher, rk *rack.Rack, cfg *config.Config, sink metrics.Sink, logger zerolog.Logger) {
	defer conn.Close()

	spoolCfg := spool.Config{
		MaxFramesPerReel: 32,
		WIPTimeout:       2 * time.Second,
	}
	s := spool.New(cph, decode.PassthroughDecoder{}, rk, spoolCfg, sink, logger)

	workers := dsp.ConcurrencyFactor(cfg.Frame.DSPConcurrencyFactor)
	pool := dsp.NewPool(workers, s.OnDSPComplete, logger)
	s.AttachPool(pool)
	pool.Start(ctx)
	defer pool.Wait()

	if err := s.Run(ctx, conn); err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("audio session ended")
	}
}

func acceptSessions(ctx context.Context, listener net.Listener, logger zerolog.Logger) <-chan net.Conn {
	out := make(chan net.Conn)
	go func() {
		defer close(out)
		for {
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn().Err(err).Msg("audio listener accept failed")
				continue
			}
			select {
			case out <- conn:
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()
	return out
}

func shutdown(listener net.Listener, rk *rack.Rack, logger zerolog.Logger) {
	listener.Close()
	logger.Info().Int("racked_reels", rk.Len()).Msg("graceful shutdown complete")
}

func cipherKey(hexKey string) ([]byte, error) {
	if hexKey == "" {
		return make([]byte, 32), nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("audio.cipher_key_hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("audio.cipher_key_hex: want 32 bytes, got %d", len(key))
	}
	return key, nil
}
