package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanRenderThreshold(t *testing.T) {
	require.True(t, StateDSPComplete.CanRender())
	require.True(t, StateReady.CanRender())
	require.True(t, StateFuture.CanRender())
	require.False(t, StateDeciphered.CanRender())
	require.False(t, StateRendered.CanRender())
}

func TestTerminalStates(t *testing.T) {
	require.True(t, StateRendered.Terminal())
	require.True(t, StateFlushed.Terminal())
	require.False(t, StateReady.Terminal())
}

func TestCompareAndSetStateRace(t *testing.T) {
	f := New(1024, 1)
	f.SetState(StateDSPInProgress)

	require.True(t, f.CompareAndSetState(StateDSPInProgress, StateDSPComplete))
	require.False(t, f.CompareAndSetState(StateDSPInProgress, StateDSPComplete),
		"second attempt must fail once state has moved on")
	require.Equal(t, StateDSPComplete, f.State())
}

func TestSetDueAt(t *testing.T) {
	f := New(0, 0)
	require.False(t, f.HasDueAt())
	f.SetDueAt(12345)
	require.True(t, f.HasDueAt())
	require.Equal(t, int64(12345), f.DueAtNs)
}
