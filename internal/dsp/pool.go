package dsp

import (
	"context"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pierre-lights/pierre/internal/frame"
)

// ConcurrencyFactor is spec §4.7's worker-pool sizing rule:
// hardware_threads * 0.4, floor 1.
func ConcurrencyFactor(factor float64) int {
	n := int(float64(runtime.NumCPU()) * factor)
	if n < 1 {
		n = 1
	}
	return n
}

// Pool is the dedicated DSP worker pool fed by the Spooler's SPMC
// queue, spec §4.7. Workers pull a frame, run two FFTs (one per
// channel), attach peaks, and invoke onComplete.
type Pool struct {
	jobs       chan *frame.Frame
	workers    int
	onComplete func(*frame.Frame)
	logger     zerolog.Logger

	wg sync.WaitGroup
}

// NewPool builds a pool with the given concurrency and completion callback.
func NewPool(workers int, onComplete func(*frame.Frame), logger zerolog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		jobs:       make(chan *frame.Frame, workers*4),
		workers:    workers,
		onComplete: onComplete,
		logger:     logger.With().Str("component", "dsp_pool").Logger(),
	}
}

// Start launches the worker goroutines; they exit once the job channel
// is closed (by Wait) and drained. After ctx is done, a worker exits on
// receiving its next job, without processing it.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit enqueues a decoded frame for DSP processing. It does not
// block indefinitely: a cancelled context aborts the submission.
func (p *Pool) Submit(ctx context.Context, f *frame.Frame) bool {
	select {
	case p.jobs <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

// Wait blocks until every in-flight job has finished, used during
// teardown's "drain DSP pool" step (spec §4.7 cancellation order).
func (p *Pool) Wait() {
	close(p.jobs)
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for f := range p.jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.process(f)
	}
}

func (p *Pool) process(f *frame.Frame) {
	if bailed(f) {
		return
	}

	left, right := deinterleave(f.PCM)

	leftFFT := New(left, frame.SampleRate)
	leftFFT.Process()
	if bailed(f) {
		return
	}
	leftPeaks := ToFramePeaks(leftFFT.FindPeaks())

	rightFFT := New(right, frame.SampleRate)
	rightFFT.Process()
	if bailed(f) {
		return
	}
	rightPeaks := ToFramePeaks(rightFFT.FindPeaks())

	f.Peaks = frame.PeaksPair{Left: leftPeaks, Right: rightPeaks}

	if !f.CompareAndSetState(frame.StateDSPInProgress, frame.StateDSPComplete) {
		p.logger.Debug().Uint32("rtp_ts", f.RTPTime).Msg("frame state moved during dsp, dropping result")
		return
	}

	if p.onComplete != nil {
		p.onComplete(f)
	}
}

// bailed implements spec §4.4: "Between each coarse step, check the
// frame's state — if it has been flushed or marked outdated by the
// Spooler, bail out early."
func bailed(f *frame.Frame) bool {
	switch f.State() {
	case frame.StateFlushed, frame.StateOutdated:
		return true
	default:
		return false
	}
}

// deinterleave splits a 2*N interleaved PCM buffer into two float32
// channel buffers suitable for FFT input.
func deinterleave(pcm []int16) (left, right []float32) {
	n := len(pcm) / 2
	left = make([]float32, n)
	right = make([]float32, n)
	for i := 0; i < n; i++ {
		left[i] = float32(pcm[2*i])
		right[i] = float32(pcm[2*i+1])
	}
	return left, right
}
