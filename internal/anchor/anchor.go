// Package anchor implements the Anchor component of spec §4.2: it
// correlates the sender-supplied (clock id, rtp-timestamp,
// network-time) tuple with the master clock to map any future
// rtp-timestamp to a local wall-clock instant.
//
// The three-slot model (ACTUAL/LAST/RECENT) and the -1/0/+1 tuple
// comparison are grounded on
// original_source/include/rtp_time/anchor.hpp and
// original_source/src/rtp_time/anchor/data.cpp, which the spec's
// design notes (§9) single out as the authoritative Anchor definition
// among the original's two parallel ones.
package anchor

import (
	"sync"
	"time"
)

// SampleRate is the audio sample rate the AirPlay session runs at;
// spec §3 pins this to 44100 for the Frame model.
const SampleRate = 44100

// StableAfter is the duration of clock stability spec §4.2 requires
// before LAST is promoted to RECENT.
const StableAfter = 5 * time.Second

// Entry names the three slots Anchor maintains, per spec §3.
type Entry int

const (
	Actual Entry = iota
	Last
	Recent
)

// Update is the raw sender-supplied anchor tuple, before network-time
// is derived from its NTP-style fractional timestamp (spec §4.2 step 1).
type Update struct {
	Rate    uint64
	ClockID uint64
	RTPTime uint32
	Secs    uint64
	Frac    uint64
}

// networkTimeNs implements spec §4.2 step 1:
// network_time_ns = secs*1e9 + ((frac>>32)*1e9)>>32
func networkTimeNs(secs, frac uint64) uint64 {
	return secs*1_000_000_000 + (((frac >> 32) * 1_000_000_000) >> 32)
}

// Data is one slot's worth of anchor state, spec §3 "Anchor data".
type Data struct {
	Rate          uint64
	ClockID       uint64
	RTPTime       uint32
	NetworkTimeNs uint64
	ValidAtNs     int64
	Valid         bool
}

// Playable reports clock_id != 0, spec §3 invariant.
func (d Data) Playable() bool { return d.ClockID != 0 }

// compare implements the three-way comparison documented in
// original_source/include/rtp_time/anchor.hpp's operator<=>:
//
//	-1 : clock differs
//	 0 : clock, rtpTime, networkTime all equal (idempotent update)
//	+1 : clock same, rtpTime or networkTime differ
func compare(lhs, rhs Data) int {
	if lhs.ClockID != rhs.ClockID {
		return -1
	}
	if lhs.RTPTime == rhs.RTPTime && lhs.NetworkTimeNs == rhs.NetworkTimeNs {
		return 0
	}
	return +1
}

// Anchor holds the three slots and the stability bookkeeping of spec §4.2.
type Anchor struct {
	mu           sync.Mutex
	slots        [3]Data
	lastChangeAt time.Time

	now func() time.Time // seam for tests
}

// New creates an empty Anchor.
func New() *Anchor {
	return &Anchor{now: time.Now}
}

// Save implements spec §4.2's save algorithm.
func (a *Anchor) Save(u Update) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()

	actual := Data{
		Rate:          u.Rate,
		ClockID:       u.ClockID,
		RTPTime:       u.RTPTime,
		NetworkTimeNs: networkTimeNs(u.Secs, u.Frac),
	}
	a.slots[Actual] = actual

	last := a.slots[Last]

	switch compare(actual, last) {
	case 0:
		// Idempotent: identical tuple, no state change.

	case +1:
		// Same clock, different rtp/network: update LAST in place, keep valid.
		last.Rate = actual.Rate
		last.RTPTime = actual.RTPTime
		last.NetworkTimeNs = actual.NetworkTimeNs
		a.slots[Last] = last

	default: // -1: different clock_id
		unstable := !a.lastChangeAt.IsZero() && now.Sub(a.lastChangeAt) < StableAfter

		actual.Valid = !unstable
		actual.ValidAtNs = now.UnixNano()
		a.lastChangeAt = now
		a.slots[Last] = actual
	}

	a.maybePromote(now)
}

// maybePromote implements spec §4.2 step 4: once LAST has held the
// same clock for >= StableAfter, RECENT takes its value and is marked valid.
func (a *Anchor) maybePromote(now time.Time) {
	if a.lastChangeAt.IsZero() {
		return
	}
	if now.Sub(a.lastChangeAt) < StableAfter {
		return
	}

	recent := a.slots[Last]
	recent.Valid = true
	if recent.ValidAtNs == 0 {
		recent.ValidAtNs = now.UnixNano()
	}
	a.slots[Recent] = recent
}

// Get returns the stabilised RECENT view, promoting it first if the
// stability window has elapsed since the last change (so a long gap
// between Save calls still converges without needing a ticker).
func (a *Anchor) Get() Data {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.maybePromote(a.now())
	return a.slots[Recent]
}

// PlayEnabled reports bit0 of the most recent actual rate, spec §3/§4.2.
func (a *Anchor) PlayEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.slots[Actual].Rate&1 != 0
}

// FrameLocalTime implements spec §4.2: maps rtp_ts to a local
// wall-clock nanosecond instant, given the current master clock's id.
// It requires RECENT to be valid and agree on clock id.
func (a *Anchor) FrameLocalTime(rtpTs uint32, masterID uint64) (int64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.maybePromote(a.now())
	recent := a.slots[Recent]

	if !recent.Valid || !recent.Playable() || recent.ClockID != masterID {
		return 0, false
	}

	diffFrames := int32(rtpTs - recent.RTPTime)
	diffNs := int64(diffFrames) * int64(time.Second) / int64(SampleRate)

	return recent.ValidAtNs + diffNs, true
}

// Teardown resets all slots, releasing the anchor for reuse.
func (a *Anchor) Teardown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slots = [3]Data{}
	a.lastChangeAt = time.Time{}
}
