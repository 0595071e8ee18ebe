package dsp

import (
	"math"
	"time"
)

// GateConfig holds the quality gate thresholds.
type GateConfig struct {
	FreqMin       float64
	FreqMax       float64
	Corners       int
	TaperFraction float64
	TaperMax      time.Duration
	// Window is the number of samples averaged on each side of the pick.
	Window int
	// PickUncertainty separates the noise and signal windows from the pick.
	PickUncertainty time.Duration
	PeakHeight      float64
	MinSNR          float64
	MaxPeaks        int
}

// DefaultGate is the gate applied by the curator.
var DefaultGate = GateConfig{
	FreqMin:         2.9,
	FreqMax:         10.2,
	Corners:         4,
	TaperFraction:   0.05,
	TaperMax:        30 * time.Second,
	Window:          1000,
	PickUncertainty: time.Second,
	PeakHeight:      0.6,
	MinSNR:          1.5,
	MaxPeaks:        9,
}

// GateResult reports the gate measurements. SNR is NaN when either window
// is empty, in which case the waveform is never rejected.
type GateResult struct {
	SNR      float64
	Peaks    int
	Rejected bool
}

// Gate screens samples with DefaultGate.
func Gate(samples []float64, sampleRate float64, pickOffset time.Duration) GateResult {
	return DefaultGate.Gate(samples, sampleRate, pickOffset)
}

// Gate filters a scratch copy of samples and compares the mean absolute
// amplitude after the pick with the one before it. pickOffset is the pick
// time relative to the first sample. samples is not modified.
func (c GateConfig) Gate(samples []float64, sampleRate float64, pickOffset time.Duration) GateResult {
	x := append([]float64(nil), samples...)
	Demean(x)
	Taper(x, c.TaperFraction, int(c.TaperMax.Seconds()*sampleRate))
	if f, err := Bandpass(c.FreqMin, c.FreqMax, c.Corners, sampleRate); err == nil {
		f.Apply(x)
	}
	Normalize(x)

	npi := int((pickOffset - c.PickUncertainty).Seconds() * sampleRate)
	npf := int((pickOffset + c.PickUncertainty).Seconds() * sampleRate)
	noise := MeanAbs(window(x, npi-c.Window, npi))
	signal := MeanAbs(window(x, npf, npf+c.Window))

	res := GateResult{SNR: math.NaN(), Peaks: len(FindPeaks(x, c.PeakHeight))}
	if !math.IsNaN(noise) && !math.IsNaN(signal) {
		res.SNR = signal / noise
	}
	res.Rejected = c.Rejects(res.SNR, res.Peaks)
	return res
}

// Rejects reports whether a waveform with the given measurements fails the
// gate: a low signal-to-noise ratio together with many strong peaks.
func (c GateConfig) Rejects(snr float64, peaks int) bool {
	if math.IsNaN(snr) {
		return false
	}
	return snr < c.MinSNR && peaks > c.MaxPeaks
}

// window returns x[from:to] clamped to the bounds of x.
func window(x []float64, from, to int) []float64 {
	from = max(from, 0)
	to = min(to, len(x))
	if from >= to {
		return nil
	}
	return x[from:to]
}
