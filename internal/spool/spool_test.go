package spool

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pierre-lights/pierre/internal/frame"
	"github.com/pierre-lights/pierre/internal/metrics"
	"github.com/pierre-lights/pierre/internal/rack"
)

func newTestSpooler(maxFrames int, wipTimeout time.Duration) (*Spooler, *rack.Rack) {
	rk := rack.New(10, 2, metrics.NewNopSink())
	s := New(nil, nil, rk, Config{MaxFramesPerReel: maxFrames, WIPTimeout: wipTimeout}, metrics.NewNopSink(), zerolog.Nop())
	return s, rk
}

func TestOnDSPCompleteInsertsInOrder(t *testing.T) {
	s, rk := newTestSpooler(2, time.Second)

	f1 := frame.New(0, 0)
	f2 := frame.New(1024, 1)

	// handlePacket seeds the cursor with the first submitted frame.
	s.nextWantTS, s.haveNext = f1.RTPTime, true

	// Completed out of order; must still be racked in rtp_ts order,
	// and the reel commits once full (max 2 frames).
	s.OnDSPComplete(f2)
	require.Nil(t, rk.PeekHead(), "out-of-order arrival must wait for its predecessor")

	s.OnDSPComplete(f1)
	require.NotNil(t, rk.PeekHead())
	require.Equal(t, uint32(0), rk.PeekHead().PeekNext().RTPTime)
}

func TestOnDSPCompleteDropsStalledGap(t *testing.T) {
	s, _ := newTestSpooler(4, 10*time.Millisecond)

	s.OnDSPComplete(frame.New(0, 0))
	require.Equal(t, uint32(1024), s.nextWantTS)

	// rtp_ts=1024 never completes; rtp_ts=2048 arrives and must wait.
	s.OnDSPComplete(frame.New(2048, 2))
	require.Equal(t, uint32(1024), s.nextWantTS, "must still be waiting on the gap")

	time.Sleep(20 * time.Millisecond)

	s.mu.Lock()
	s.sweepLocked()
	s.mu.Unlock()

	require.Equal(t, uint32(3072), s.nextWantTS, "the gap at 1024 drops and 2048 is admitted")
}

func TestCommitActiveLockedSkipsEmptyReel(t *testing.T) {
	s, rk := newTestSpooler(4, time.Second)
	s.commitActiveLocked()
	require.Equal(t, 0, rk.Len())
}
