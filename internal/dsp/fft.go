// Package dsp implements windowed-FFT peak extraction (spec §4.4) and
// the worker pool that runs it, grounded on
// original_source/src/frame/fft.cpp (Cooley-Tukey compute, Hann
// window, DC removal, quadratic peak interpolation) and
// original_source/include/dsp/peak.hpp (floor/ceiling/scaling
// constants).
package dsp

import "math"

// Samples is the fixed FFT size, spec §4.4.
const Samples = 1024

var hannWindow = buildHannWindow()

// buildHannWindow mirrors FFT::init()'s Hann branch: only the first
// half is tabulated and mirrored across the midpoint by windowing().
func buildHannWindow() []float32 {
	const pi2 = 2 * math.Pi
	w := make([]float32, Samples/2)
	last := float32(Samples - 1)
	for i := range w {
		ratio := float64(i) / float64(last)
		w[i] = float32(0.54 * (1.0 - math.Cos(pi2*ratio)))
	}
	return w
}

// FFT holds one channel's working buffers across dc_removal ->
// windowing -> compute -> complex_to_magnitude, exactly as
// FFT::process() sequences them.
type FFT struct {
	samplingFreq float32
	power        int
	reals        []float32
	imag         []float32
}

// New builds an FFT over samples (len must be Samples).
func New(samples []float32, samplingFreq float32) *FFT {
	reals := make([]float32, len(samples))
	copy(reals, samples)

	return &FFT{
		samplingFreq: samplingFreq,
		power:        int(math.Log2(float64(len(samples)))),
		reals:        reals,
		imag:         make([]float32, len(samples)),
	}
}

// Process runs dc_removal, forward windowing, forward compute, and
// complex-to-magnitude in place, matching FFT::process().
func (f *FFT) Process() {
	f.dcRemoval()
	f.windowForward()
	f.computeForward()
	f.complexToMagnitude()
}

// dcRemoval implements FFT::dc_removal(): subtract the mean from
// indices 1..N/2 only (a quirk of the original kept as-is).
func (f *FFT) dcRemoval() {
	var sum float64
	for _, v := range f.reals {
		sum += float64(v)
	}
	mean := sum / float64(len(f.reals))

	for i := 1; i <= len(f.reals)/2; i++ {
		f.reals[i] -= float32(mean)
	}
}

// windowForward implements FFT::windowing(Forward): multiply the
// first half by the table, mirror onto the second half.
func (f *FFT) windowForward() {
	n := len(f.reals)
	for i := 0; i < n/2; i++ {
		f.reals[i] *= hannWindow[i]
		f.reals[n-(i+1)] *= hannWindow[i]
	}
}

// computeForward is the iterative radix-2 Cooley-Tukey transform from
// FFT::compute(Forward), bit-reversal permutation then butterfly passes.
func (f *FFT) computeForward() {
	n := len(f.reals)

	j := 0
	for i := 0; i < n-1; i++ {
		if i < j {
			f.reals[i], f.reals[j] = f.reals[j], f.reals[i]
		}
		k := n >> 1
		for k <= j {
			j -= k
			k >>= 1
		}
		j += k
	}

	c1 := float32(-1.0)
	c2 := float32(0.0)
	l2 := 1
	for l := 0; l < f.power; l++ {
		l1 := l2
		l2 <<= 1
		u1 := float32(1.0)
		u2 := float32(0.0)

		for j := 0; j < l1; j++ {
			for i := j; i < n; i += l2 {
				i1 := i + l1
				t1 := u1*f.reals[i1] - u2*f.imag[i1]
				t2 := u1*f.imag[i1] + u2*f.reals[i1]
				f.reals[i1] = f.reals[i] - t1
				f.imag[i1] = f.imag[i] - t2
				f.reals[i] += t1
				f.imag[i] += t2
			}
			z := u1*c1 - u2*c2
			u2 = u1*c2 + u2*c1
			u1 = z
		}

		cTemp := 0.5 * c1
		c2 = float32(math.Sqrt(0.5 - float64(cTemp)))
		c1 = float32(math.Sqrt(0.5 + float64(cTemp)))
		c2 = -c2 // forward direction
	}
}

// complexToMagnitude implements FFT::complex_to_magnitude().
func (f *FFT) complexToMagnitude() {
	for i := range f.reals {
		f.reals[i] = float32(math.Hypot(float64(f.reals[i]), float64(f.imag[i])))
	}
}

// magAtIndex implements FFT::mag_at_index.
func (f *FFT) magAtIndex(i int) float32 {
	a, b, c := f.reals[i-1], f.reals[i], f.reals[i+1]
	return float32(math.Abs(float64(a - 2.0*b + c)))
}

// freqAtIndex implements FFT::freq_at_index's quadratic interpolation:
// δ = 0.5·(a-c)/(a-2b+c), f = (k+δ)·Fs/(N-1), with the edge-bin
// special case the original carries for y == N/2.
func (f *FFT) freqAtIndex(y int) float32 {
	n := len(f.reals)
	a, b, c := f.reals[y-1], f.reals[y], f.reals[y+1]

	delta := 0.5 * (a - c) / (a - 2.0*b + c)
	freq := (float32(y) + delta) * f.samplingFreq / float32(n-1)
	if y == n/2 {
		freq = (float32(y) + delta) * f.samplingFreq / float32(n)
	}
	return freq
}

// RawPeak is an unfiltered local maximum before floor/ceiling gating.
type RawPeak struct {
	Index     int
	Magnitude float32
	FreqHz    float32
}

// FindPeaks implements FFT::find_peaks(): local maxima (a<b>c) over
// the first half-plus-one bins (the spectrum is symmetric).
func (f *FFT) FindPeaks() []RawPeak {
	n := len(f.reals)
	var peaks []RawPeak

	for i := 1; i <= n/2; i++ {
		a, b, c := f.reals[i-1], f.reals[i], f.reals[i+1]
		if a < b && b > c {
			peaks = append(peaks, RawPeak{
				Index:     i,
				Magnitude: f.magAtIndex(i),
				FreqHz:    f.freqAtIndex(i),
			})
		}
	}

	return peaks
}
