// Package fx implements the lighting effect contract described in
// spec §9's redesign note: the deep HeadUnit/FX inheritance hierarchy
// in original_source collapses to a single trait with one method.
package fx

import (
	"time"

	"github.com/pierre-lights/pierre/internal/frame"
	"github.com/pierre-lights/pierre/internal/remote"
)

// Effect computes a lighting data-frame from a frame's extracted
// peaks and the wall-clock instant it is due to render at.
type Effect interface {
	Execute(peaks frame.PeaksPair, dueAt time.Time, out *remote.DataFrame) error
}

// Passthrough is the trivial effect: it forwards the unscaled magnitude
// of the strongest peak per channel, exercising the full
// peaks-to-DataFrame path without committing to any specific lighting
// scheme.
type Passthrough struct{}

// Execute implements Effect.
func (Passthrough) Execute(peaks frame.PeaksPair, dueAt time.Time, out *remote.DataFrame) error {
	out.Fx = map[string]any{
		"left_mag":  strongestMagnitude(peaks.Left),
		"right_mag": strongestMagnitude(peaks.Right),
		"due_at_ns": dueAt.UnixNano(),
	}
	return nil
}

func strongestMagnitude(peaks []frame.Peak) float32 {
	if len(peaks) == 0 {
		return 0
	}
	return peaks[0].Magnitude // PeaksPair is kept sorted descending
}
