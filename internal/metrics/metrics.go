// Package metrics defines the named metrics emitted throughout the
// pipeline (spec §8) and a couple of Sink implementations. The real
// time-series sink (stats.db_uri) is an external collaborator and is
// not implemented here; by default metrics are disabled and, when
// enabled, are simply logged whether or not stats.db_uri is set.
package metrics

import (
	"time"

	"github.com/rs/zerolog"
)

// Names of every metric spec.md names explicitly.
const (
	RackCollision      = "RACK_COLLISION"
	RackWIPIncomplete  = "RACK_WIP_INCOMPLETE"
	RackedReels        = "RACKED_REELS"
	ReelsFlushed       = "REELS_FLUSHED"
	FPS                = "FPS"
	NextFrameWait      = "NEXT_FRAME_WAIT"
	FrameTimerAdjust   = "FRAME_TIMER_ADJUST"
	RenderElapsed      = "RENDER_ELAPSED"
	NoClockAnchor      = "NO_CLK_ANC"
	SyncWait           = "SYNC_WAIT"
	NoConn             = "NO_CONN"
	RemoteDMXQueueSlotFull = "REMOTE_DMX_QSF"
	RemoteDMXQueueRoomFreed = "REMOTE_DMX_QRF"
	Outdated           = "OUTDATED"
	DecipherFail       = "DECIPHER_FAIL"
)

// Tag is a single dimension attached to a metric observation.
type Tag struct {
	Key   string
	Value string
}

// Sink receives metric observations. Implementations must be safe for
// concurrent use; every pipeline goroutine holds a reference.
type Sink interface {
	Count(name string, delta int64, tags ...Tag)
	Duration(name string, d time.Duration, tags ...Tag)
}

// nopSink discards everything; used when stats.enabled is false.
type nopSink struct{}

// NewNopSink returns a Sink that discards all observations.
func NewNopSink() Sink { return nopSink{} }

func (nopSink) Count(string, int64, ...Tag)       {}
func (nopSink) Duration(string, time.Duration, ...Tag) {}

// logSink logs every observation at debug level; used when stats is
// enabled.
type logSink struct {
	logger zerolog.Logger
}

// NewLogSink returns a Sink that logs each observation via zerolog.
func NewLogSink(logger zerolog.Logger) Sink {
	return logSink{logger: logger.With().Str("component", "metrics").Logger()}
}

func (s logSink) Count(name string, delta int64, tags ...Tag) {
	ev := s.logger.Debug().Str("metric", name).Int64("delta", delta).Str("type", "counter")
	for _, t := range tags {
		ev = ev.Str(t.Key, t.Value)
	}
	ev.Msg("metric")
}

func (s logSink) Duration(name string, d time.Duration, tags ...Tag) {
	ev := s.logger.Debug().Str("metric", name).Dur("value", d).Str("type", "duration")
	for _, t := range tags {
		ev = ev.Str(t.Key, t.Value)
	}
	ev.Msg("metric")
}
