package features

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/homecharge/core/model"
)

// MinSamples is the shortest sequence Extract accepts.
const MinSamples = 2

// Extract computes the fingerprint of samples. The boolean is false when the
// sequence carries no usable signal.
func Extract(samples []float64) (model.Fingerprint, bool) {
	if len(samples) < MinSamples {
		return model.Fingerprint{}, false
	}
	active := Active(samples)
	if len(active) == 0 {
		return model.Fingerprint{}, false
	}

	mean, std := stat.PopMeanStdDev(active, nil)
	sorted := slices.Clone(active)
	slices.Sort(sorted)
	p25 := Percentile(sorted, 0.25)
	p75 := Percentile(sorted, 0.75)

	cv := 0.0
	if mean > 0 {
		cv = std / mean
	}
	return model.Fingerprint{
		MeanPowerKW: mean,
		StdPowerKW:  std,
		P25PowerKW:  p25,
		P75PowerKW:  p75,
		IQRPowerKW:  p75 - p25,
		CVStability: cv,
		SampleCount: len(active),
	}, true
}

// Active returns the readings at or above the active threshold, falling back
// to every strictly positive reading when none qualify.
func Active(samples []float64) []float64 {
	active := keep(samples, func(v float64) bool { return v >= model.ActiveThresholdKW })
	if len(active) == 0 {
		active = keep(samples, func(v float64) bool { return v > 0 })
	}
	return active
}

func keep(samples []float64, ok func(float64) bool) []float64 {
	var out []float64
	for _, v := range samples {
		if ok(v) {
			out = append(out, v)
		}
	}
	return out
}

// Percentile interpolates linearly between the closest ranks of an ascending
// slice; rank p*(n-1) is used, so p=0 and p=1 return the extremes.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	rank := p * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
