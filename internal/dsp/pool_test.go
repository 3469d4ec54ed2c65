package dsp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pierre-lights/pierre/internal/frame"
)

func interleavedPCM(n int) []int16 {
	pcm := make([]int16, 2*n)
	for i := 0; i < n; i++ {
		pcm[2*i] = int16(10000)
		pcm[2*i+1] = int16(-10000)
	}
	return pcm
}

func TestPoolProcessesFrameToCompletion(t *testing.T) {
	var mu sync.Mutex
	var completed []*frame.Frame

	pool := NewPool(1, func(f *frame.Frame) {
		mu.Lock()
		defer mu.Unlock()
		completed = append(completed, f)
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	f := frame.New(0, 0)
	f.SampleRate = frame.SampleRate
	f.PCM = interleavedPCM(frame.SamplesPerFrame)
	f.SetState(frame.StateDSPInProgress)

	require.True(t, pool.Submit(ctx, f))
	pool.Wait()

	require.Equal(t, frame.StateDSPComplete, f.State())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, completed, 1)
}

func TestPoolBailsOnFlushedFrame(t *testing.T) {
	var calls int
	pool := NewPool(1, func(f *frame.Frame) { calls++ }, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	f := frame.New(0, 0)
	f.PCM = interleavedPCM(frame.SamplesPerFrame)
	f.SetState(frame.StateFlushed)

	require.True(t, pool.Submit(ctx, f))
	pool.Wait()

	require.Equal(t, 0, calls)
	require.Equal(t, frame.StateFlushed, f.State())
}

func TestConcurrencyFactorFloorsAtOne(t *testing.T) {
	require.GreaterOrEqual(t, ConcurrencyFactor(0.0), 1)
}

func TestPoolSubmitAbortsOnCancelledContext(t *testing.T) {
	pool := NewPool(1, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// fill the buffered channel first so Submit would otherwise block
	for i := 0; i < cap(pool.jobs); i++ {
		pool.jobs <- frame.New(uint32(i), 0)
	}

	done := make(chan bool, 1)
	go func() { done <- pool.Submit(ctx, frame.New(0, 0)) }()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Submit did not respect cancelled context")
	}
}
