// Package remote implements the Remote Bridge of spec §4.8: a
// length-prefixed MsgPack stream to the downstream DMX device, with a
// bounded outbound queue and exponential-backoff reconnect.
//
// The `ma:828` end-of-message sentinel is grounded on
// original_source/include/desk/async/matcher.hpp, whose
// `suffix{0x6d,0x61,0xcd,0x03,0x3c}` is the literal MsgPack encoding of
// `{"ma":828}`; this package's encoder is verified to reproduce the
// same bytes for that field pair. No MsgPack library exists in the
// retrieval pack, so `github.com/vmihailenco/msgpack/v5` is used — see
// DESIGN.md. The reconnect backoff is grounded on the teacher's
// pkg/cloudflare/client.go (AddTracksWithRetry: 100ms-start, 10s-cap
// backoff, shortened here to a 2s cap given the render loop's own
// ~22ms cadence). The bounded-queue drop-oldest-on-overflow idiom is
// grounded on other_examples' moonlight-common-go audio stream send
// loop (enqueue, and on a full channel drain one then retry) rather
// than the teacher's own pkg/bridge/pacer.go, which blocks the caller
// on a full channel — the wrong policy for a bridge the render loop
// must never stall against.
package remote

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pierre-lights/pierre/internal/metrics"
	"github.com/pierre-lights/pierre/internal/perr"
)

const (
	sentinelMA = 828

	backoffStart = 100 * time.Millisecond
	backoffCap   = 2 * time.Second

	outboundDepth = 8
)

// DataFrame is one lighting-control message, spec §3/§4.8: at least
// `{ma: 828, mt: <frame-type>, ...}` plus supplemented fields.
type DataFrame struct {
	MA  int            `msgpack:"ma"`
	MT  string         `msgpack:"mt"`
	ACP bool           `msgpack:"ACP"`
	Fx  map[string]any `msgpack:"fx,omitempty"`
}

// NewDataFrame builds a frame with the mandatory sentinel fields set.
func NewDataFrame(frameType string) DataFrame {
	return DataFrame{MA: sentinelMA, MT: frameType, ACP: true}
}

// Bridge is the persistent, reconnecting TCP connection to the DMX device.
type Bridge struct {
	host string
	port int

	sink   metrics.Sink
	logger zerolog.Logger

	mu    sync.Mutex
	conn  net.Conn
	queue chan DataFrame
}

// New builds a Bridge; call Run to establish and maintain the connection.
func New(host string, port int, sink metrics.Sink, logger zerolog.Logger) *Bridge {
	if sink == nil {
		sink = metrics.NewNopSink()
	}
	return &Bridge{
		host:   host,
		port:   port,
		sink:   sink,
		logger: logger.With().Str("component", "remote_bridge").Logger(),
		queue:  make(chan DataFrame, outboundDepth),
	}
}

// Run maintains the connection with exponential backoff and drains
// the outbound queue until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	backoff := backoffStart

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := net.Dial("tcp", net.JoinHostPort(b.host, strconv.Itoa(b.port)))
		if err != nil {
			b.sink.Count(metrics.NoConn, 1)
			b.logger.Warn().Err(err).Dur("backoff", backoff).Msg(perr.ErrNoConn.Error())

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = backoffStart
		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()

		b.drain(ctx, conn)

		conn.Close()
		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
	}
}

// Connected reports whether the bridge currently holds a live connection.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Drain exposes the outbound queue as a receive-only channel, for a
// caller (or test) that wants to observe queued frames without a live
// connection driving Run's own drain loop.
func (b *Bridge) Drain() <-chan DataFrame {
	return b.queue
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > backoffCap {
		return backoffCap
	}
	return next
}

// Send enqueues a frame for the next write, dropping the oldest queued
// frame on overflow (spec §4.8's bounded-queue policy).
func (b *Bridge) Send(df DataFrame) {
	select {
	case b.queue <- df:
	default:
		select {
		case <-b.queue:
			b.sink.Count(metrics.RemoteDMXQueueRoomFreed, 1)
		default:
		}
		b.sink.Count(metrics.RemoteDMXQueueSlotFull, 1)
		select {
		case b.queue <- df:
		default:
		}
	}
}

func (b *Bridge) drain(ctx context.Context, conn net.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case df := <-b.queue:
			if err := writeFrame(conn, df); err != nil {
				b.logger.Warn().Err(err).Msg("remote bridge write failed")
				return
			}
		}
	}
}

// writeFrame encodes df as MsgPack and writes it length-prefixed.
func writeFrame(conn net.Conn, df DataFrame) error {
	encoded, err := msgpack.Marshal(df)
	if err != nil {
		return err
	}
	if !hasMASentinel(encoded) {
		return errors.New("remote: encoded frame missing ma:828 sentinel")
	}

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(encoded)))

	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = conn.Write(encoded)
	return err
}

// maSentinelSuffix is the MsgPack encoding of {"ma":828}, grounded on
// original_source/include/desk/async/matcher.hpp.
var maSentinelSuffix = []byte{0x6d, 0x61, 0xcd, 0x03, 0x3c}

func hasMASentinel(encoded []byte) bool {
	return containsSubslice(encoded, maSentinelSuffix)
}

func containsSubslice(haystack, needle []byte) bool {
	if len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
