// Package reel implements the Reel container of spec §4.5: an
// ordered, fixed-capacity run of frames with strictly increasing
// rtp_ts (step 1024), grounded on
// original_source/src/frame/reel.cpp.
package reel

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/pierre-lights/pierre/internal/frame"
)

const rtpStep = 1024

var nextSerial atomic.Uint64

func init() {
	nextSerial.Store(0x1000) // matches Reel::next_serial_num's starting value
}

// FlushInfo describes a flush window [Lo, Hi] inclusive, spec §4.5.
type FlushInfo struct {
	Lo, Hi uint32
}

// Matches reports whether ts falls within the flush window.
func (fi FlushInfo) Matches(ts uint32) bool {
	return ts >= fi.Lo && ts <= fi.Hi
}

// overlaps reports whether [a, b] intersects the flush window at all.
func (fi FlushInfo) overlaps(a, b uint32) bool {
	return !(fi.Hi < a || fi.Lo > b)
}

// Reel is an ordered run of consecutive frames.
type Reel struct {
	Serial    uint64
	ID        uuid.UUID
	MaxFrames int

	frames   []*frame.Frame
	consumed int
}

// New creates an empty reel with the given capacity.
func New(maxFrames int) *Reel {
	return &Reel{
		Serial:    nextSerial.Add(1) - 1,
		ID:        uuid.New(),
		MaxFrames: maxFrames,
	}
}

// Full reports the reel has reached capacity.
func (r *Reel) Full() bool {
	return len(r.frames) >= r.MaxFrames
}

// Empty reports every frame has been consumed.
func (r *Reel) Empty() bool {
	return len(r.frames) == r.consumed
}

// Len reports the number of un-consumed frames.
func (r *Reel) Len() int {
	return len(r.frames) - r.consumed
}

// Add enforces monotone rtp_ts step = 1024, spec §4.5.
func (r *Reel) Add(f *frame.Frame) bool {
	if r.Full() {
		return false
	}

	if len(r.frames) > 0 {
		last := r.frames[len(r.frames)-1]
		if f.RTPTime != last.RTPTime+rtpStep {
			return false
		}
	}

	r.frames = append(r.frames, f)
	return true
}

// PeekNext returns the oldest un-consumed frame, or nil if empty.
func (r *Reel) PeekNext() *frame.Frame {
	if r.Empty() {
		return nil
	}
	return r.frames[r.consumed]
}

// PeekLast returns the newest frame in the reel, or nil if empty.
func (r *Reel) PeekLast() *frame.Frame {
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1]
}

// Consume advances past the oldest un-consumed frame.
func (r *Reel) Consume() {
	if r.consumed < len(r.frames) {
		r.consumed++
	}
}

// Flush implements Reel::flush: a full-window match consumes the
// entire reel in one step; a partial overlap consumes only the
// frames inside the window; no overlap is a no-op. Returns whether
// the reel is empty after the operation.
func (r *Reel) Flush(fi FlushInfo) bool {
	if r.Empty() {
		return true
	}

	a := r.PeekNext().RTPTime
	b := r.PeekLast().RTPTime

	switch {
	case fi.Matches(a) && fi.Matches(b):
		r.consumed = len(r.frames)

	case fi.overlaps(a, b):
		kept := r.frames[:r.consumed]
		for i := r.consumed; i < len(r.frames); i++ {
			f := r.frames[i]
			if fi.Matches(f.RTPTime) {
				f.SetState(frame.StateFlushed)
				continue
			}
			kept = append(kept, f)
		}
		r.frames = kept
	}

	return r.Empty()
}
