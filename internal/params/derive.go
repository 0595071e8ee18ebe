package params

import (
	"errors"
	"fmt"
)

// ErrInconsistentConfiguration marks a configuration that cannot be
// rendered; it scores the worst value without running the picker.
var ErrInconsistentConfiguration = errors.New("inconsistent configuration")

// WorstScore is the objective value of a rejected configuration.
const WorstScore = 0.0

// Defaults fills parameters that are not tuned.
var Defaults = Configuration{
	"p_timecorr":        0.0,
	"aic_fmin":          1,
	"aic_fwidth":        0,
	"picker_aic_filter": "ITAPER(1)>>BW_HP(3,2)",
}

type derivation struct {
	target, base, width string
	// strict requires target > base, otherwise target >= base.
	strict bool
}

var derivations = []derivation{
	{target: "p_lta", base: "p_sta", width: "p_sta_width", strict: true},
	{target: "p_fmax", base: "p_fmin", width: "p_fwidth", strict: true},
	{target: "s_fmax", base: "s_fmin", width: "s_fwidth", strict: true},
	{target: "aic_fmax", base: "aic_fmin", width: "aic_fwidth"},
}

// Derive returns a copy of cfg with defaults and derived parameters filled
// in. Explicitly given derived values are kept. It fails with
// ErrInconsistentConfiguration when a tunable value lies outside its bounds
// or a derived upper value does not exceed its lower one.
func Derive(cfg Configuration) (Configuration, error) {
	out := cfg.Clone()
	for k, v := range Defaults {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}

	for _, sp := range []Space{PSpace, SSpace} {
		for _, s := range sp {
			raw, present := out[s.Name]
			if !present {
				continue
			}
			v, ok := out.Float(s.Name)
			if !ok {
				return nil, fmt.Errorf("%w: %s=%v is not numeric", ErrInconsistentConfiguration, s.Name, raw)
			}
			if !s.Contains(v) {
				return nil, fmt.Errorf("%w: %s=%s outside [%g, %g]", ErrInconsistentConfiguration,
					s.Name, FormatValue(raw), s.Min, s.Max)
			}
		}
	}

	for _, d := range derivations {
		if _, ok := out[d.target]; !ok {
			if sum, ok := add(out[d.base], out[d.width]); ok {
				out[d.target] = sum
			}
		}
		hi, okHi := out.Float(d.target)
		lo, okLo := out.Float(d.base)
		if !okHi || !okLo {
			continue
		}
		if hi < lo || (d.strict && hi == lo) {
			return nil, fmt.Errorf("%w: %s=%s not above %s=%s", ErrInconsistentConfiguration,
				d.target, FormatValue(out[d.target]), d.base, FormatValue(out[d.base]))
		}
	}
	return out, nil
}

// add sums two numeric values, keeping int when both are ints.
func add(a, b any) (any, bool) {
	ai, aInt := a.(int)
	bi, bInt := b.(int)
	if aInt && bInt {
		return ai + bi, true
	}
	af, ok1 := Configuration{"v": a}.Float("v")
	bf, ok2 := Configuration{"v": b}.Float("v")
	if !ok1 || !ok2 {
		return nil, false
	}
	return af + bf, true
}
