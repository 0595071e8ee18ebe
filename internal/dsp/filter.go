// Package dsp holds the signal processing used to screen waveforms before
// they are handed to the picker.
package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Biquad is one second-order IIR section, normalised so a0 == 1.
type Biquad struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// Filter is a cascade of second-order sections applied causally.
type Filter struct {
	Sections []Biquad
	Gain     float64
}

// Apply filters x in place.
func (f Filter) Apply(x []float64) {
	for i := range x {
		x[i] *= f.Gain
	}
	for _, s := range f.Sections {
		var z1, z2 float64
		for i, in := range x {
			out := s.B0*in + z1
			z1 = s.B1*in - s.A1*out + z2
			z2 = s.B2*in - s.A2*out
			x[i] = out
		}
	}
}

// Response returns the complex frequency response at freq Hz.
func (f Filter) Response(freq, sampleRate float64) complex128 {
	w := 2 * math.Pi * freq / sampleRate
	z1 := cmplx.Exp(complex(0, -w))
	z2 := z1 * z1
	h := complex(f.Gain, 0)
	for _, s := range f.Sections {
		num := complex(s.B0, 0) + complex(s.B1, 0)*z1 + complex(s.B2, 0)*z2
		den := 1 + complex(s.A1, 0)*z1 + complex(s.A2, 0)*z2
		h *= num / den
	}
	return h
}

// butterPrototype returns the left half-plane poles of an order-n analog
// Butterworth low-pass with unit cutoff.
func butterPrototype(n int) []complex128 {
	poles := make([]complex128, n)
	for k := 0; k < n; k++ {
		theta := math.Pi * float64(2*k+n+1) / float64(2*n)
		poles[k] = cmplx.Exp(complex(0, theta))
	}
	return poles
}

// bilinear maps an analog pole to the z plane.
func bilinear(s complex128, fs2 float64) complex128 {
	return (complex(fs2, 0) + s) / (complex(fs2, 0) - s)
}

// sectionsFromPoles pairs each digital pole in the upper half plane with its
// conjugate. Real poles are paired with each other.
func sectionsFromPoles(poles []complex128, b0, b1, b2 float64) []Biquad {
	var sections []Biquad
	var reals []float64
	for _, p := range poles {
		switch {
		case imag(p) > 1e-12:
			sections = append(sections, Biquad{B0: b0, B1: b1, B2: b2, A1: -2 * real(p), A2: real(p)*real(p) + imag(p)*imag(p)})
		case math.Abs(imag(p)) <= 1e-12:
			reals = append(reals, real(p))
		}
	}
	for i := 0; i+1 < len(reals); i += 2 {
		a, b := reals[i], reals[i+1]
		sections = append(sections, Biquad{B0: b0, B1: b1, B2: b2, A1: -(a + b), A2: a * b})
	}
	return sections
}

// Bandpass designs a Butterworth band-pass of the given order (corners)
// between low and high Hz. When high reaches the Nyquist frequency the
// filter degrades to a high-pass at low.
func Bandpass(low, high float64, corners int, sampleRate float64) (Filter, error) {
	nyq := sampleRate / 2
	switch {
	case corners < 1:
		return Filter{}, fmt.Errorf("corners must be positive, got %d", corners)
	case low <= 0 || low >= high:
		return Filter{}, fmt.Errorf("invalid band %.3f-%.3f Hz", low, high)
	case low >= nyq:
		return Filter{}, fmt.Errorf("low corner %.3f Hz above Nyquist %.3f Hz", low, nyq)
	case high >= nyq:
		return Highpass(low, corners, sampleRate)
	}

	fs2 := 2 * sampleRate
	w1 := fs2 * math.Tan(math.Pi*low/sampleRate)
	w2 := fs2 * math.Tan(math.Pi*high/sampleRate)
	bw := w2 - w1
	w0sq := w1 * w2

	var digital []complex128
	for _, p := range butterPrototype(corners) {
		half := p * complex(bw/2, 0)
		root := cmplx.Sqrt(half*half - complex(w0sq, 0))
		digital = append(digital, bilinear(half+root, fs2), bilinear(half-root, fs2))
	}
	// Each section carries one zero at z=1 and one at z=-1.
	f := Filter{Sections: sectionsFromPoles(digital, 1, 0, -1), Gain: 1}
	centre := math.Atan(math.Sqrt(w0sq)/fs2) * sampleRate / math.Pi
	f.Gain = 1 / cmplx.Abs(f.Response(centre, sampleRate))
	return f, nil
}

// Highpass designs a Butterworth high-pass with its corner at freq Hz.
func Highpass(freq float64, corners int, sampleRate float64) (Filter, error) {
	if corners < 1 {
		return Filter{}, fmt.Errorf("corners must be positive, got %d", corners)
	}
	if freq <= 0 || freq >= sampleRate/2 {
		return Filter{}, fmt.Errorf("invalid high-pass corner %.3f Hz", freq)
	}
	fs2 := 2 * sampleRate
	wc := fs2 * math.Tan(math.Pi*freq/sampleRate)
	var digital []complex128
	for _, p := range butterPrototype(corners) {
		digital = append(digital, bilinear(complex(wc, 0)/p, fs2))
	}
	f := Filter{Sections: sectionsFromPoles(digital, 1, -2, 1), Gain: 1}
	if corners%2 == 1 {
		// The odd real pole gets a first-order section.
		for _, p := range digital {
			if math.Abs(imag(p)) <= 1e-12 {
				f.Sections = append(f.Sections, Biquad{B0: 1, B1: -1, A1: -real(p)})
				break
			}
		}
	}
	f.Gain = 1 / cmplx.Abs(f.Response(sampleRate/2, sampleRate))
	return f, nil
}
