// Package decode implements the Decoder component of spec's module
// table: transforms a deciphered AAC-ELD payload into 2x1024
// interleaved stereo PCM samples.
//
// A real AAC-ELD decode requires a native codec (e.g. fdk-aac) that
// has no pure-Go, cgo-free equivalent anywhere in the retrieval pack;
// see DESIGN.md. Decoder is therefore kept as a narrow interface so a
// real implementation can be swapped in at the process boundary,
// mirroring the plist/pairing/mDNS external-collaborator boundary the
// spec draws around the rest of the control plane. PrependADTSHeader
// is grounded on original_source/src/packet/rtp.cpp's
// RTP::adtsHeaderAdd, which an out-of-process decoder needs to
// recognize the stream as AAC-LC framed audio.
package decode

import (
	"fmt"

	"github.com/pierre-lights/pierre/internal/frame"
)

// Decoder turns a deciphered AAC-ELD payload into interleaved stereo PCM.
type Decoder interface {
	Decode(payload []byte) ([]int16, error)
}

// adtsHeaderSize matches RTP::adtsHeaderAdd's 7-byte ADTS header.
const adtsHeaderSize = 7

// PrependADTSHeader builds the 7-byte ADTS header RTP::adtsHeaderAdd
// writes ahead of a raw AAC-LC payload of the given length, for
// handoff to an external decoder that expects ADTS framing.
func PrependADTSHeader(payload []byte) []byte {
	const (
		profile = 2 // AAC LC
		freqIdx = 4 // 44.1kHz
		chanCfg = 2 // CPE (stereo)
	)

	frameLen := len(payload) + adtsHeaderSize
	out := make([]byte, adtsHeaderSize, frameLen)

	out[0] = 0xFF
	out[1] = 0xF9
	out[2] = byte(((profile - 1) << 6) + (freqIdx << 2) + (chanCfg >> 2))
	out[3] = byte(((chanCfg & 3) << 6) + (frameLen >> 11))
	out[4] = byte((frameLen & 0x7FF) >> 3)
	out[5] = byte(((frameLen & 7) << 5) + 0x1F)
	out[6] = 0xFC

	return append(out, payload...)
}

// PassthroughDecoder treats the deciphered payload as already-PCM
// interleaved samples (little-endian int16 pairs), the fallback mode
// for ALAC/PCM sessions and for exercising the pipeline without a
// native AAC codec wired in.
type PassthroughDecoder struct{}

// Decode implements Decoder.
func (PassthroughDecoder) Decode(payload []byte) ([]int16, error) {
	want := 2 * frame.SamplesPerFrame
	if len(payload) < want*2 {
		return nil, fmt.Errorf("decode: payload too short for %d samples (%d bytes)", want, len(payload))
	}

	pcm := make([]int16, want)
	for i := 0; i < want; i++ {
		lo := payload[2*i]
		hi := payload[2*i+1]
		pcm[i] = int16(uint16(lo) | uint16(hi)<<8)
	}
	return pcm, nil
}
