// Package params describes the tunable picker parameters, derives the
// dependent ones, and renders them into SeisComP parameter values.
package params

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/picktune/internal/picks"
)

// Type is the value type of a parameter.
type Type string

const (
	TypeFloat  Type = "float"
	TypeInt    Type = "int"
	TypeString Type = "string"
)

// Spec bounds one tunable parameter.
type Spec struct {
	Name string
	Type Type
	Min  float64
	Max  float64
	Step float64
}

// Contains reports whether v lies inside [Min, Max].
func (s Spec) Contains(v float64) bool {
	return v >= s.Min && v <= s.Max
}

// Value snaps v to the parameter's step and type, clamped to the bounds.
// Int parameters return an int, float parameters a float64.
func (s Spec) Value(v float64) any {
	v = math.Max(s.Min, math.Min(s.Max, v))
	if s.Type == TypeInt {
		return int(math.Round(v))
	}
	if s.Step > 0 {
		v = s.Min + math.Round((v-s.Min)/s.Step)*s.Step
		// Round away accumulated binary error so values print cleanly.
		v, _ = strconv.ParseFloat(strconv.FormatFloat(v, 'f', decimals(s.Step), 64), 64)
		v = math.Max(s.Min, math.Min(s.Max, v))
	}
	return v
}

func decimals(step float64) int {
	str := strconv.FormatFloat(step, 'f', -1, 64)
	if i := strings.IndexByte(str, '.'); i >= 0 {
		return len(str) - i - 1
	}
	return 0
}

// Space is the ordered set of tunable parameters for one phase.
type Space []Spec

// Names returns the parameter names in order.
func (sp Space) Names() []string {
	out := make([]string, len(sp))
	for i, s := range sp {
		out[i] = s.Name
	}
	return out
}

// Lookup returns the spec named name.
func (sp Space) Lookup(name string) (Spec, bool) {
	for _, s := range sp {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

var (
	// PSpace holds the P-phase trigger and filter parameters.
	PSpace = Space{
		{Name: "p_sta", Type: TypeFloat, Min: 0.1, Max: 3, Step: 0.01},
		{Name: "p_sta_width", Type: TypeFloat, Min: 1, Max: 100, Step: 0.01},
		{Name: "p_fmin", Type: TypeInt, Min: 1, Max: 10, Step: 1},
		{Name: "p_fwidth", Type: TypeInt, Min: 1, Max: 30, Step: 1},
		{Name: "p_snr", Type: TypeInt, Min: 1, Max: 4, Step: 1},
		{Name: "trig_on", Type: TypeFloat, Min: 2, Max: 15, Step: 0.01},
	}
	// SSpace holds the S-phase picker parameters.
	SSpace = Space{
		{Name: "s_snr", Type: TypeFloat, Min: 1, Max: 4, Step: 0.01},
		{Name: "s_fmin", Type: TypeFloat, Min: 0.1, Max: 10, Step: 0.1},
		{Name: "s_fwidth", Type: TypeFloat, Min: 1, Max: 15, Step: 0.1},
	}
)

// SpaceFor returns the tunable parameters of phase.
func SpaceFor(phase picks.Phase) Space {
	if phase == picks.PhaseS {
		return SSpace
	}
	return PSpace
}

// Configuration maps parameter names to float64, int or string values.
type Configuration map[string]any

// Clone returns a shallow copy.
func (c Configuration) Clone() Configuration {
	out := make(Configuration, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge returns a copy of c with every key of other set.
func (c Configuration) Merge(other Configuration) Configuration {
	out := c.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Float returns the numeric value of name.
func (c Configuration) Float(name string) (float64, bool) {
	switch v := c[name].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Keys returns the sorted parameter names.
func (c Configuration) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders c as "k=v k=v" in key order.
func (c Configuration) String() string {
	parts := make([]string, 0, len(c))
	for _, k := range c.Keys() {
		parts = append(parts, k+"="+FormatValue(c[k]))
	}
	return strings.Join(parts, " ")
}

// FormatValue renders v the way parameter files expect: floats always
// carry a decimal point, ints never do.
func FormatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case string:
		return x
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// ParseValue parses a textual value: integers become int, other numbers
// float64 and anything else stays a string.
func ParseValue(s string) any {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
