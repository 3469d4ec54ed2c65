// Package render implements the Render Loop of spec §4.7: a
// timer-driven task that, each tick, asks the Rack's head-of-line
// frame whether it is due, and if so hands its peaks to an Effect and
// writes the resulting data-frame to the Remote bridge.
//
// The per-tick delay recompute and reschedule-vs-dispatch split is
// grounded on the teacher's pkg/bridge/pacer.go pacing loop; the
// nominal frame cadence constant is grounded on
// original_source/src/dmx/render.cpp's `stream()` (`frame_us =
// (1_000_000/44) - 250`).
package render

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pierre-lights/pierre/internal/anchor"
	"github.com/pierre-lights/pierre/internal/clock"
	"github.com/pierre-lights/pierre/internal/frame"
	"github.com/pierre-lights/pierre/internal/fx"
	"github.com/pierre-lights/pierre/internal/metrics"
	"github.com/pierre-lights/pierre/internal/rack"
	"github.com/pierre-lights/pierre/internal/reel"
	"github.com/pierre-lights/pierre/internal/remote"
)

// NominalFrameInterval matches original_source/src/dmx/render.cpp's
// frame_us = (1_000_000/44) - 250, i.e. ~22.477ms, the ~44Hz cadence
// a 1024-sample frame at 44.1kHz implies.
const NominalFrameInterval = (time.Second / 44) - 250*time.Microsecond

// DefaultLeadTime matches spec §9's frame.render.lead_ns default (1e7 ns).
const DefaultLeadTime = 10 * time.Millisecond

const clockNotReadyBackoff = 10 * time.Millisecond

// ClockSource is the subset of *clock.MasterClock the Loop depends on,
// narrowed so tests can substitute a fake snapshot source instead of a
// real mapped shared-memory segment.
type ClockSource interface {
	InfoNoWait() clock.Snapshot
}

// Loop is the single timer-driven render task, spec §4.7.
type Loop struct {
	clock  ClockSource
	anchor *anchor.Anchor
	rack   *rack.Rack
	effect fx.Effect
	bridge *remote.Bridge

	leadTime time.Duration
	sink     metrics.Sink
	logger   zerolog.Logger

	lastDispatchedRTP uint32
	haveDispatched    bool
}

// New builds a Render loop bound to its collaborators.
func New(mc ClockSource, a *anchor.Anchor, rk *rack.Rack, effect fx.Effect, bridge *remote.Bridge, leadTime time.Duration, sink metrics.Sink, logger zerolog.Logger) *Loop {
	if leadTime <= 0 {
		leadTime = DefaultLeadTime
	}
	if sink == nil {
		sink = metrics.NewNopSink()
	}
	return &Loop{
		clock:    mc,
		anchor:   a,
		rack:     rk,
		effect:   effect,
		bridge:   bridge,
		leadTime: leadTime,
		sink:     sink,
		logger:   logger.With().Str("component", "render_loop").Logger(),
	}
}

// Run ticks until ctx is cancelled, implementing spec §4.7's six-step
// per-tick algorithm.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := l.tick()

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// tick runs one iteration and returns how long to sleep before the next.
func (l *Loop) tick() time.Duration {
	start := time.Now()
	defer func() {
		l.sink.Duration(metrics.RenderElapsed, time.Since(start))
	}()

	snap := l.clock.InfoNoWait()
	if !snap.Ready(time.Now().UnixNano()) {
		l.sink.Count(metrics.NoClockAnchor, 1)
		return clockNotReadyBackoff
	}

	anchorData := l.anchor.Get()
	if !l.anchor.PlayEnabled() || !anchorData.Valid {
		l.sink.Count(metrics.SyncWait, 1)
		return clockNotReadyBackoff
	}

	head := l.rack.PeekHead()
	if head == nil {
		return NominalFrameInterval
	}

	f := head.PeekNext()
	if f == nil {
		l.rack.DropHead()
		return 0
	}

	dueNs, ok := l.anchor.FrameLocalTime(f.RTPTime, snap.MasterID)
	if !ok {
		l.sink.Count(metrics.SyncWait, 1)
		return clockNotReadyBackoff
	}
	f.SetDueAt(dueNs)

	now := time.Now().UnixNano()
	diff := dueNs - now

	switch {
	case diff > int64(l.leadTime):
		wait := time.Duration(diff) - l.leadTime
		l.sink.Duration(metrics.NextFrameWait, wait)
		return wait

	case diff < -int64(l.leadTime):
		f.SetState(frame.StateOutdated)
		l.consumeHead(head)
		l.sink.Count(metrics.Outdated, 1)
		return 0

	default:
		l.dispatch(head, f)
		return NominalFrameInterval
	}
}

func (l *Loop) dispatch(head *reel.Reel, f *frame.Frame) {
	if l.haveDispatched && f.RTPTime < l.lastDispatchedRTP {
		l.logger.Error().Uint32("rtp_ts", f.RTPTime).Uint32("last", l.lastDispatchedRTP).
			Msg("render loop about to dispatch out of order, dropping invariant violation")
		f.SetState(frame.StateOutdated)
		l.consumeHead(head)
		return
	}

	f.SetState(frame.StateReady)

	df := remote.NewDataFrame("audio")
	if l.effect != nil {
		if err := l.effect.Execute(f.Peaks, time.Unix(0, f.DueAtNs), &df); err != nil {
			l.logger.Warn().Err(err).Msg("effect execution failed")
		}
	}

	f.SetState(frame.StateRendered)
	if l.bridge != nil {
		l.bridge.Send(df)
	}

	l.lastDispatchedRTP = f.RTPTime
	l.haveDispatched = true

	l.consumeHead(head)
}

func (l *Loop) consumeHead(head *reel.Reel) {
	head.Consume()
	if head.Empty() {
		l.rack.DropHead()
	}
}
