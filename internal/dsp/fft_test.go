package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func sineWave(freq, sampleRate float64, n int, amplitude float64) []float32 {
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/sampleRate))
	}
	return out
}

func TestFFTFindsDominantTonePeak(t *testing.T) {
	const sampleRate = 44100.0
	const toneFreq = 1000.0

	samples := sineWave(toneFreq, sampleRate, Samples, 30000)

	f := New(samples, sampleRate)
	f.Process()

	peaks := f.FindPeaks()
	require.NotEmpty(t, peaks)

	best := peaks[0]
	for _, p := range peaks[1:] {
		if p.Magnitude > best.Magnitude {
			best = p
		}
	}

	require.InDelta(t, toneFreq, float64(best.FreqHz), 50, "peak frequency should land near the injected tone")
}

func TestFFTSilenceYieldsNoUsablePeaks(t *testing.T) {
	samples := make([]float32, Samples)
	f := New(samples, 44100)
	f.Process()

	peaks := ToFramePeaks(f.FindPeaks())
	require.Empty(t, peaks)
}

func TestHannWindowTableShape(t *testing.T) {
	require.Len(t, hannWindow, Samples/2)
	require.InDelta(t, 0.0, hannWindow[0], 1e-6, "hann window starts near zero")
}
