// Package score converts pick instants into comparable representations and
// scores predicted picks against observed (manual) picks.
package score

import (
	"time"
)

// Uncertainty is the half-width of the indicator window placed around each
// pick when building a binary series.
const Uncertainty = 250 * time.Millisecond

// Transform returns an indicator series of length npts sampled at sampleRate
// from start. Every sample in [t-Uncertainty, t+Uncertainty) of each pick is
// set to 1. Overlapping windows stay 1, so repeated picks never count twice.
func Transform(picks []time.Time, start time.Time, sampleRate float64, npts int) []float64 {
	if npts <= 0 {
		return []float64{}
	}
	z := make([]float64, npts)
	for _, t := range picks {
		from, to := samplePoints(t, start, sampleRate, Uncertainty)
		if from < 0 {
			from = 0
		}
		if to > npts {
			to = npts
		}
		for i := from; i < to; i++ {
			z[i] = 1
		}
	}
	return z
}

// samplePoints returns the sample offsets of t-unc and t+unc relative to start,
// truncated toward zero.
func samplePoints(t, start time.Time, sampleRate float64, unc time.Duration) (int, int) {
	rel := t.Sub(start).Seconds()
	u := unc.Seconds()
	return int((rel - u) * sampleRate), int((rel + u) * sampleRate)
}

// Concat joins per-waveform series in the given order.
func Concat(series [][]float64) []float64 {
	n := 0
	for _, s := range series {
		n += len(s)
	}
	out := make([]float64, 0, n)
	for _, s := range series {
		out = append(out, s...)
	}
	return out
}
