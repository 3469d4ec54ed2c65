package decode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pierre-lights/pierre/internal/frame"
)

func TestPassthroughDecodeRoundTrip(t *testing.T) {
	n := 2 * frame.SamplesPerFrame
	payload := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(i - 100)
		payload[2*i] = byte(uint16(v))
		payload[2*i+1] = byte(uint16(v) >> 8)
	}

	d := PassthroughDecoder{}
	pcm, err := d.Decode(payload)
	require.NoError(t, err)
	require.Len(t, pcm, n)
	require.Equal(t, int16(-100), pcm[0])
}

func TestPassthroughDecodeRejectsShortPayload(t *testing.T) {
	d := PassthroughDecoder{}
	_, err := d.Decode(make([]byte, 10))
	require.Error(t, err)
}

func TestPrependADTSHeaderShape(t *testing.T) {
	payload := make([]byte, 100)
	framed := PrependADTSHeader(payload)

	require.Len(t, framed, adtsHeaderSize+len(payload))
	require.Equal(t, byte(0xFF), framed[0])
	require.Equal(t, byte(0xF9), framed[1])
}
