package anchor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func withClock(a *Anchor, t0 time.Time) func(d time.Duration) {
	cur := t0
	a.now = func() time.Time { return cur }
	return func(d time.Duration) { cur = cur.Add(d) }
}

func TestSaveIdempotentUpdateIsNoop(t *testing.T) {
	a := New()
	advance := withClock(a, time.Unix(0, 0))

	u := Update{Rate: 1, ClockID: 9, RTPTime: 1000, Secs: 1, Frac: 0}
	a.Save(u)
	before := a.slots[Last]
	advance(time.Second)
	a.Save(u)

	require.Equal(t, before, a.slots[Last])
}

func TestSaveSameClockUpdatesInPlace(t *testing.T) {
	a := New()
	_ = withClock(a, time.Unix(0, 0))

	a.Save(Update{Rate: 1, ClockID: 9, RTPTime: 1000, Secs: 1, Frac: 0})
	a.Save(Update{Rate: 1, ClockID: 9, RTPTime: 2000, Secs: 2, Frac: 0})

	require.Equal(t, uint32(2000), a.slots[Last].RTPTime)
}

func TestSaveClockChangeWithinWindowMarksInvalid(t *testing.T) {
	a := New()
	advance := withClock(a, time.Unix(0, 0))

	a.Save(Update{Rate: 1, ClockID: 1, RTPTime: 0, Secs: 0, Frac: 0})
	advance(time.Second)
	a.Save(Update{Rate: 1, ClockID: 2, RTPTime: 0, Secs: 0, Frac: 0})

	require.False(t, a.slots[Last].Valid, "a second clock change inside the stability window must be invalid")
}

func TestSaveClockChangeAfterWindowStaysValid(t *testing.T) {
	a := New()
	advance := withClock(a, time.Unix(0, 0))

	a.Save(Update{Rate: 1, ClockID: 1, RTPTime: 0, Secs: 0, Frac: 0})
	advance(StableAfter + time.Second)
	a.Save(Update{Rate: 1, ClockID: 2, RTPTime: 0, Secs: 0, Frac: 0})

	require.True(t, a.slots[Last].Valid)
}

func TestPromotionToRecentAfterStableWindow(t *testing.T) {
	a := New()
	advance := withClock(a, time.Unix(0, 0))

	a.Save(Update{Rate: 1, ClockID: 5, RTPTime: 100, Secs: 1, Frac: 0})
	require.Zero(t, a.slots[Recent].ClockID, "must not promote before the stability window elapses")

	advance(StableAfter + time.Millisecond)
	got := a.Get()

	require.Equal(t, uint64(5), got.ClockID)
	require.True(t, got.Valid)
}

func TestFrameLocalTimeRequiresValidMatchingClock(t *testing.T) {
	a := New()
	advance := withClock(a, time.Unix(0, 0))

	a.Save(Update{Rate: 1, ClockID: 5, RTPTime: 1000, Secs: 1, Frac: 0})
	advance(StableAfter + time.Millisecond)
	a.Get()

	_, ok := a.FrameLocalTime(1000, 99)
	require.False(t, ok, "mismatched master id must fail")

	_, ok = a.FrameLocalTime(1000, 5)
	require.True(t, ok)
}

func TestFrameLocalTimeIsAffineInRTPDelta(t *testing.T) {
	a := New()
	advance := withClock(a, time.Unix(0, 0))

	a.Save(Update{Rate: 1, ClockID: 5, RTPTime: 0, Secs: 1, Frac: 0})
	advance(StableAfter + time.Millisecond)
	a.Get()

	t0, ok := a.FrameLocalTime(0, 5)
	require.True(t, ok)
	t1, ok := a.FrameLocalTime(1024, 5)
	require.True(t, ok)
	t2, ok := a.FrameLocalTime(2048, 5)
	require.True(t, ok)

	step := int64(1024) * int64(time.Second) / int64(SampleRate)
	require.InDelta(t, float64(step), float64(t1-t0), 1)
	require.InDelta(t, float64(step), float64(t2-t1), 1)
}

func TestFrameLocalTimeWrapsAroundUint32(t *testing.T) {
	a := New()
	advance := withClock(a, time.Unix(0, 0))

	anchorRTP := uint32(1<<32 - 512)
	a.Save(Update{Rate: 1, ClockID: 5, RTPTime: anchorRTP, Secs: 1, Frac: 0})
	advance(StableAfter + time.Millisecond)
	a.Get()

	anchorLocal, ok := a.FrameLocalTime(anchorRTP, 5)
	require.True(t, ok)

	wrapped, ok := a.FrameLocalTime(512, 5)
	require.True(t, ok)

	step := int64(1024) * int64(time.Second) / int64(SampleRate)
	require.InDelta(t, float64(anchorLocal+step), float64(wrapped), 1)
}

func TestPlayEnabledReadsRateBit0(t *testing.T) {
	a := New()
	_ = withClock(a, time.Unix(0, 0))

	a.Save(Update{Rate: 0, ClockID: 1})
	require.False(t, a.PlayEnabled())

	a.Save(Update{Rate: 3, ClockID: 1})
	require.True(t, a.PlayEnabled())
}

func TestTeardownResetsSlots(t *testing.T) {
	a := New()
	_ = withClock(a, time.Unix(0, 0))
	a.Save(Update{Rate: 1, ClockID: 1, RTPTime: 1})

	a.Teardown()
	require.Zero(t, a.slots[Actual].ClockID)
	require.True(t, a.lastChangeAt.IsZero())
}
