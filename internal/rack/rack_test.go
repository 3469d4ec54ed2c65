package rack

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pierre-lights/pierre/internal/frame"
	"github.com/pierre-lights/pierre/internal/metrics"
	"github.com/pierre-lights/pierre/internal/reel"
)

func reelWith(ts ...uint32) *reel.Reel {
	r := reel.New(len(ts) + 1)
	for _, t := range ts {
		r.Add(frame.New(t, 0))
	}
	return r
}

func TestInsertOrdersByHeadRTPTime(t *testing.T) {
	rk := New(10, 2, metrics.NewNopSink())

	require.NoError(t, rk.Insert(reelWith(2048, 3072)))
	require.NoError(t, rk.Insert(reelWith(0, 1024)))

	require.Equal(t, uint32(0), rk.PeekHead().PeekNext().RTPTime)
}

func TestInsertCollisionOnDuplicateHead(t *testing.T) {
	rk := New(10, 2, metrics.NewNopSink())
	require.NoError(t, rk.Insert(reelWith(0, 1024)))
	err := rk.Insert(reelWith(0, 1024))
	require.ErrorIs(t, err, ErrCollision)
}

func TestFullAndDrainedWaterMarks(t *testing.T) {
	rk := New(2, 1, metrics.NewNopSink())
	require.False(t, rk.Full())

	require.NoError(t, rk.Insert(reelWith(0)))
	require.NoError(t, rk.Insert(reelWith(2048)))
	require.True(t, rk.Full())
	require.False(t, rk.Drained())

	rk.DropHead()
	require.True(t, rk.Drained())
}

func TestFlushWindowRemovesEmptiedReels(t *testing.T) {
	rk := New(10, 2, metrics.NewNopSink())
	require.NoError(t, rk.Insert(reelWith(0, 1024)))
	require.NoError(t, rk.Insert(reelWith(2048, 3072)))

	flushed := rk.FlushWindow(reel.FlushInfo{Lo: 0, Hi: 1024})
	require.Equal(t, 1, flushed)
	require.Equal(t, 1, rk.Len())
	require.Equal(t, uint32(2048), rk.PeekHead().PeekNext().RTPTime)
}
