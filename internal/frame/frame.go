// Package frame implements the Frame record and its state machine
// (spec §4.4), grounded on original_source/include/frame/state.hpp for
// the state set and original_source/src/packet/rtp.cpp for header
// parsing (via internal/cipher).
package frame

import (
	"fmt"
	"sync/atomic"
)

// State is the Frame lifecycle state, spec §3/§4.4; the constants are
// declared in lifecycle order. The numeric value is not compared
// anywhere: CanRender checks set membership, and Frame.SetState does
// not validate transitions.
type State int32

const (
	StateNone State = iota
	StateHeaderParsed
	StateDeciphered
	StateDSPInProgress
	StateDSPComplete
	StateReady
	StateFuture
	StateRendered
	StateOutdated
	StateFlushed
	StateErrorDecipherFail
	StateErrorParseFail
	StateErrorDecodeFail
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateHeaderParsed:
		return "HEADER_PARSED"
	case StateDeciphered:
		return "DECIPHERED"
	case StateDSPInProgress:
		return "DSP_IN_PROGRESS"
	case StateDSPComplete:
		return "DSP_COMPLETE"
	case StateReady:
		return "READY"
	case StateFuture:
		return "FUTURE"
	case StateRendered:
		return "RENDERED"
	case StateOutdated:
		return "OUTDATED"
	case StateFlushed:
		return "FLUSHED"
	case StateErrorDecipherFail:
		return "DECIPHER_FAIL"
	case StateErrorParseFail:
		return "PARSE_FAIL"
	case StateErrorDecodeFail:
		return "DECODE_FAIL"
	default:
		return fmt.Sprintf("STATE(%d)", int32(s))
	}
}

// CanRender reports whether a frame in this state is renderable, spec §3:
// "Only states in {DSP_COMPLETE, READY, FUTURE} are renderable."
func (s State) CanRender() bool {
	switch s {
	case StateDSPComplete, StateReady, StateFuture:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is expected.
func (s State) Terminal() bool {
	switch s {
	case StateRendered, StateOutdated, StateFlushed,
		StateErrorDecipherFail, StateErrorParseFail, StateErrorDecodeFail:
		return true
	default:
		return false
	}
}

// SampleRate is fixed for AirPlay2 lossless audio, spec §3.
const SampleRate = 44100

// SamplesPerFrame is the fixed frame size DSP operates on, spec §4.4.
const SamplesPerFrame = 1024

// Peak is a single detected spectral peak, spec §3.
type Peak struct {
	Index     uint32
	FreqHz    float32
	Magnitude float32
}

// PeaksPair holds per-channel peaks, sorted by magnitude descending.
type PeaksPair struct {
	Left  []Peak
	Right []Peak
}

// Frame is one audio-frame record: state machine + payload + derived
// peaks + timing, spec §3.
type Frame struct {
	RTPTime    uint32
	Seq        uint32
	SampleRate uint32

	state atomic.Int32

	CipherBytes []byte
	PCM         []int16 // interleaved, 2*SamplesPerFrame when decoded
	Peaks       PeaksPair
	DueAtNs     int64
	dueAtSet    atomic.Bool
}

// New creates a frame in state NONE for the given rtp timestamp.
func New(rtpTS, seq uint32) *Frame {
	f := &Frame{RTPTime: rtpTS, Seq: seq, SampleRate: SampleRate}
	f.state.Store(int32(StateNone))
	return f
}

// State returns the current state, safe for concurrent readers (DSP
// workers poll this between coarse steps per spec §4.4).
func (f *Frame) State() State {
	return State(f.state.Load())
}

// SetState performs an unconditional transition. Callers are
// responsible for respecting the documented monotonic ordering; this
// type does not itself enforce a transition table, matching the
// looser approach the original takes (state is a plain enum with
// direct assignment) while still being safe for concurrent access.
func (f *Frame) SetState(s State) {
	f.state.Store(int32(s))
}

// CompareAndSetState performs a conditional transition, used by DSP
// workers to detect a concurrent flush/outdate without clobbering it.
func (f *Frame) CompareAndSetState(from, to State) bool {
	return f.state.CompareAndSwap(int32(from), int32(to))
}

// SetDueAt records the render-anchored wall-clock instant, spec §4.4.
func (f *Frame) SetDueAt(ns int64) {
	f.DueAtNs = ns
	f.dueAtSet.Store(true)
}

// HasDueAt reports whether SetDueAt has been called.
func (f *Frame) HasDueAt() bool {
	return f.dueAtSet.Load()
}
