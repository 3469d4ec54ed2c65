package remote

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pierre-lights/pierre/internal/metrics"
)

func TestNewDataFrameSetsSentinelFields(t *testing.T) {
	df := NewDataFrame("audio")
	require.Equal(t, sentinelMA, df.MA)
	require.Equal(t, "audio", df.MT)
	require.True(t, df.ACP)
}

func TestHasMASentinelMatchesEncodedFrame(t *testing.T) {
	df := NewDataFrame("audio")
	encoded, err := msgpack.Marshal(df)
	require.NoError(t, err)
	require.True(t, hasMASentinel(encoded))
}

func TestHasMASentinelRejectsForeignBytes(t *testing.T) {
	require.False(t, hasMASentinel([]byte{0x01, 0x02, 0x03}))
}

func TestContainsSubslice(t *testing.T) {
	require.True(t, containsSubslice([]byte{1, 2, 3, 4}, []byte{2, 3}))
	require.False(t, containsSubslice([]byte{1, 2, 3, 4}, []byte{3, 2}))
	require.False(t, containsSubslice([]byte{1, 2}, []byte{1, 2, 3}))
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	b := backoffStart
	b = nextBackoff(b)
	require.Equal(t, 200*time.Millisecond, b)

	b = nextBackoff(b)
	require.Equal(t, 400*time.Millisecond, b)

	huge := nextBackoff(backoffCap)
	require.Equal(t, backoffCap, huge)
}

func TestSendDropsOldestOnOverflow(t *testing.T) {
	b := New("127.0.0.1", 0, metrics.NewNopSink(), zerolog.Nop())

	for i := 0; i < outboundDepth; i++ {
		b.Send(NewDataFrame("audio"))
	}
	require.Len(t, b.queue, outboundDepth)

	overflow := NewDataFrame("overflow-marker")
	b.Send(overflow)

	require.Len(t, b.queue, outboundDepth)

	var last DataFrame
	for i := 0; i < outboundDepth; i++ {
		last = <-b.queue
	}
	require.Equal(t, "overflow-marker", last.MT, "the newest frame must survive the drop-oldest policy")
}

func TestConnectedReflectsConnState(t *testing.T) {
	b := New("127.0.0.1", 0, metrics.NewNopSink(), zerolog.Nop())
	require.False(t, b.Connected())
}
