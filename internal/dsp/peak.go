package dsp

import (
	"math"
	"sort"

	"github.com/pierre-lights/pierre/internal/frame"
)

// Peak magnitude thresholds, spec §4.4 "Peak model" /
// original_source/include/dsp/peak.hpp's mag_base.
const (
	MagFloor   = 36_400
	MagCeiling = 2_100_000
	MagStrong  = 3.0 * MagFloor
)

const scaleFactor = 2.41

var (
	scaledFloor   = scaleVal(MagFloor * scaleFactor)
	scaledCeiling = scaleVal(MagCeiling)
)

// scaleVal implements peak::scaleVal: 10*log10(x), zero for x<=0.
func scaleVal(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return 10 * math.Log10(v)
}

// Usable reports floor < mag < ceiling, spec §4.4.
func Usable(mag float32) bool {
	return mag > MagFloor && mag < MagCeiling
}

// Strong reports mag >= 3*floor.
func Strong(mag float32) bool {
	return mag >= MagStrong
}

// ScaledMagnitude implements the peak model's
// mag_scaled = 10*log10(mag) - 10*log10(floor*2.41), clamped to >= 0.
func ScaledMagnitude(mag float32) float32 {
	v := scaleVal(float64(mag)) - scaledFloor
	if v < 0 {
		v = 0
	}
	return float32(v)
}

// ToFramePeaks filters raw local maxima to the usable range and sorts
// them by magnitude descending, spec §4.4: "Keep peaks whose magnitude
// exceeds a configured floor. Sort descending."
func ToFramePeaks(raw []RawPeak) []frame.Peak {
	out := make([]frame.Peak, 0, len(raw))
	for _, p := range raw {
		if !Usable(p.Magnitude) {
			continue
		}
		out = append(out, frame.Peak{
			Index:     uint32(p.Index),
			FreqHz:    p.FreqHz,
			Magnitude: p.Magnitude,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Magnitude > out[j].Magnitude })
	return out
}
