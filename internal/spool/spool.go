// Package spool implements the Spooler of spec §4.6: single ingress
// per RTSP session, decrypts and decodes each packet, submits it to
// the DSP pool, and inserts completed frames into the Rack in rtp_ts
// order. The length-prefixed read loop is grounded on the teacher's
// pkg/rtsp/client.go ReadPackets loop (bufio.Reader Peek/Discard over
// an interleaved framing), generalized to the plain
// `u16-length || payload` framing spec §6 describes; the bounded
// work-in-progress wait is grounded on pkg/bridge/pacer.go's
// channel-based backpressure idiom.
package spool

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pierre-lights/pierre/internal/cipher"
	"github.com/pierre-lights/pierre/internal/decode"
	"github.com/pierre-lights/pierre/internal/dsp"
	"github.com/pierre-lights/pierre/internal/frame"
	"github.com/pierre-lights/pierre/internal/metrics"
	"github.com/pierre-lights/pierre/internal/perr"
	"github.com/pierre-lights/pierre/internal/rack"
	"github.com/pierre-lights/pierre/internal/reel"
)

const lengthPrefixSize = 2

// Spooler is single-writer into a Rack: one instance per RTSP session.
type Spooler struct {
	cipher  *cipher.Cipher
	decoder decode.Decoder
	pool    *dsp.Pool
	rack    *rack.Rack
	sink    metrics.Sink
	logger  zerolog.Logger

	maxFramesPerReel int
	wipTimeout       time.Duration

	mu         sync.Mutex
	active     *reel.Reel
	pending    map[uint32]*frame.Frame
	arrivedAt  map[uint32]time.Time
	nextWantTS uint32
	haveNext   bool
	seq        uint32
}

// Config bundles a Spooler's tunables, spec §4.6/§9 "rack.high_water"/
// "rack.low_water" siblings.
type Config struct {
	MaxFramesPerReel int
	WIPTimeout       time.Duration
}

// New builds a Spooler bound to a cipher, decoder, and Rack. The DSP
// pool is wired afterward via AttachPool, since the pool's completion
// callback is the Spooler's own OnDSPComplete method (a two-phase
// construction avoiding a circular dependency).
func New(c *cipher.Cipher, d decode.Decoder, rk *rack.Rack, cfg Config, sink metrics.Sink, logger zerolog.Logger) *Spooler {
	if sink == nil {
		sink = metrics.NewNopSink()
	}
	if cfg.MaxFramesPerReel <= 0 {
		cfg.MaxFramesPerReel = 32
	}
	if cfg.WIPTimeout <= 0 {
		cfg.WIPTimeout = 2 * time.Second
	}

	return &Spooler{
		cipher:           c,
		decoder:          d,
		rack:             rk,
		sink:             sink,
		logger:           logger.With().Str("component", "spooler").Logger(),
		maxFramesPerReel: cfg.MaxFramesPerReel,
		wipTimeout:       cfg.WIPTimeout,
		pending:          make(map[uint32]*frame.Frame),
		arrivedAt:        make(map[uint32]time.Time),
	}
}

// AttachPool wires the DSP worker pool this Spooler submits decoded
// frames to. The pool must have been constructed with this Spooler's
// OnDSPComplete as its completion callback.
func (s *Spooler) AttachPool(pool *dsp.Pool) {
	s.pool = pool
}

// Run drains the session's audio socket until ctx is cancelled or the
// connection closes. It honors Rack back-pressure: when the Rack is at
// high-water it stops issuing reads until drained below low-water.
func (s *Spooler) Run(ctx context.Context, r io.Reader) error {
	br := bufio.NewReaderSize(r, 64*1024)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if s.rack.Full() {
			for !s.rack.Drained() {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(5 * time.Millisecond):
				}
			}
		}

		hdr, err := br.Peek(lengthPrefixSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		size := binary.BigEndian.Uint16(hdr)

		if _, err := br.Discard(lengthPrefixSize); err != nil {
			return err
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(br, payload); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		s.handlePacket(ctx, payload)
	}
}

func (s *Spooler) handlePacket(ctx context.Context, packet []byte) {
	hdr, err := cipher.ParseHeader(packet)
	if err != nil {
		s.logger.Debug().Err(err).Msg(perr.ErrParseFail.Error())
		return
	}

	plaintext, _, err := s.cipher.Decrypt(packet)
	if err != nil {
		s.sink.Count(metrics.DecipherFail, 1)
		s.logger.Debug().Err(err).Uint32("seq", hdr.SeqNum).Msg(perr.ErrDecipherFail.Error())
		return
	}

	f := frame.New(hdr.Timestamp, hdr.SeqNum)
	f.SetState(frame.StateHeaderParsed)
	f.SetState(frame.StateDeciphered)

	pcm, err := s.decoder.Decode(plaintext)
	if err != nil {
		f.SetState(frame.StateErrorDecodeFail)
		s.logger.Debug().Err(err).Msg(perr.ErrDecodeFail.Error())
		return
	}
	f.PCM = pcm
	f.SetState(frame.StateDSPInProgress)

	// Seed the in-order cursor in arrival order, before DSP can
	// complete frames out of order.
	s.mu.Lock()
	if !s.haveNext {
		s.nextWantTS = f.RTPTime
		s.haveNext = true
	}
	s.mu.Unlock()

	s.pool.Submit(ctx, f)
}

// OnDSPComplete is the DSP pool's completion callback: it admits the
// frame into the session's ordered pending set and sweeps as many
// in-order frames as are ready into the active reel.
func (s *Spooler) OnDSPComplete(f *frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.haveNext {
		s.nextWantTS = f.RTPTime
		s.haveNext = true
	}

	s.pending[f.RTPTime] = f
	s.arrivedAt[f.RTPTime] = time.Now()

	s.sweepLocked()
}

// sweepLocked inserts every contiguous pending frame starting at
// nextWantTS, committing reels to the Rack as they fill or a
// work-in-progress timeout elapses for the stalled gap.
func (s *Spooler) sweepLocked() {
	for {
		f, ok := s.pending[s.nextWantTS]
		if !ok {
			if s.wipStalledLocked() {
				s.dropStalledLocked()
				continue
			}
			return
		}

		delete(s.pending, s.nextWantTS)
		delete(s.arrivedAt, s.nextWantTS)
		s.nextWantTS += frame.SamplesPerFrame

		if s.active == nil {
			s.active = reel.New(s.maxFramesPerReel)
		}
		if !s.active.Add(f) {
			s.commitActiveLocked()
			s.active = reel.New(s.maxFramesPerReel)
			s.active.Add(f)
		}
		if s.active.Full() {
			s.commitActiveLocked()
		}
	}
}

func (s *Spooler) wipStalledLocked() bool {
	oldest, ok := s.arrivedAt[s.nextWantTS]
	if ok {
		return time.Since(oldest) > s.wipTimeout
	}
	// Nothing has arrived yet for nextWantTS; consider it stalled only
	// if some later frame has waited past the timeout.
	for _, at := range s.arrivedAt {
		if time.Since(at) > s.wipTimeout {
			return true
		}
	}
	return false
}

// dropStalledLocked implements spec §4.6: on RACK_WIP_TIMEOUT, the
// stalled gap frame is dropped and reported, and the cursor advances.
func (s *Spooler) dropStalledLocked() {
	s.sink.Count(metrics.RackWIPIncomplete, 1)
	s.logger.Warn().Uint32("rtp_ts", s.nextWantTS).Msg(perr.ErrRackWIPTimeout.Error())
	s.nextWantTS += frame.SamplesPerFrame
}

func (s *Spooler) commitActiveLocked() {
	if s.active == nil || s.active.Empty() {
		return
	}
	if err := s.rack.Insert(s.active); err != nil {
		s.logger.Warn().Err(err).Msg("rack insert failed")
	}
	s.active = nil
}
