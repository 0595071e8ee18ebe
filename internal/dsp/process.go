package dsp

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Demean subtracts the mean from x in place.
func Demean(x []float64) {
	if len(x) == 0 {
		return
	}
	floats.AddConst(-stat.Mean(x, nil), x)
}

// Taper applies a symmetric Hann taper in place. Each side covers
// fraction of the samples, but never more than maxSamples.
func Taper(x []float64, fraction float64, maxSamples int) {
	n := len(x)
	width := int(math.Floor(float64(n) * fraction))
	if maxSamples > 0 && width > maxSamples {
		width = maxSamples
	}
	if width <= 0 {
		return
	}
	for i := 0; i < width; i++ {
		w := 0.5 * (1 - math.Cos(math.Pi*float64(i)/float64(width)))
		x[i] *= w
		x[n-1-i] *= w
	}
}

// Normalize scales x in place so its largest absolute value is 1. An all
// zero series is left untouched.
func Normalize(x []float64) {
	if len(x) == 0 {
		return
	}
	peak := floats.Norm(x, math.Inf(1))
	if peak == 0 {
		return
	}
	floats.Scale(1/peak, x)
}

// MeanAbs returns the mean absolute value of x, or NaN for an empty slice.
func MeanAbs(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return floats.Norm(x, 1) / float64(len(x))
}

// FindPeaks returns the indices of local maxima whose value is at least
// height. A flat top counts once, at its middle sample.
func FindPeaks(x []float64, height float64) []int {
	var peaks []int
	n := len(x)
	for i := 1; i < n-1; i++ {
		if x[i-1] >= x[i] {
			continue
		}
		j := i
		for j+1 < n-1 && x[j+1] == x[i] {
			j++
		}
		if x[j+1] < x[i] && x[i] >= height {
			peaks = append(peaks, (i+j)/2)
		}
		i = j
	}
	return peaks
}
