// Package picks holds manual pick observations for one station and phase,
// removes observations whose windows overlap a neighbouring pick, and looks
// up stations and manual picks in a SeisComP database.
package picks

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Phase is a seismic arrival label.
type Phase string

// Supported phases.
const (
	PhaseP Phase = "P"
	PhaseS Phase = "S"
)

// ParsePhase accepts "P" or "S" in any case.
func ParsePhase(s string) (Phase, error) {
	switch Phase(strings.ToUpper(strings.TrimSpace(s))) {
	case PhaseP:
		return PhaseP, nil
	case PhaseS:
		return PhaseS, nil
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// NoiseSuffix marks identifiers of derived noise-only observations.
const NoiseSuffix = "_NOISE"

// Observation is one manual pick and the time window built around it.
// Noise observations have a zero Time and no expected pick.
type Observation struct {
	ID          string
	Phase       Phase
	Time        time.Time
	WindowStart time.Time
	WindowEnd   time.Time
}

// NewObservation builds an observation whose window is t ∓ halfWidth.
func NewObservation(id string, phase Phase, t time.Time, halfWidth time.Duration) Observation {
	return Observation{
		ID:          id,
		Phase:       phase,
		Time:        t,
		WindowStart: t.Add(-halfWidth),
		WindowEnd:   t.Add(halfWidth),
	}
}

// IsNoise reports whether o is a noise-only observation.
func (o Observation) IsNoise() bool {
	return o.Time.IsZero()
}

// HasPick reports whether o expects a pick.
func (o Observation) HasPick() bool {
	return !o.IsNoise()
}

// Duration returns the window length.
func (o Observation) Duration() time.Duration {
	return o.WindowEnd.Sub(o.WindowStart)
}

// captures reports whether t lies strictly inside o's window.
func (o Observation) captures(t time.Time) bool {
	return t.After(o.WindowStart) && t.Before(o.WindowEnd)
}

// Dedup removes every observation whose window strictly contains the
// reference time of its immediate predecessor or successor. Only neighbours
// are compared. Input must be ordered by reference time; order is preserved.
// Sequences of length 0 or 1 are returned unchanged.
func Dedup(obs []Observation) []Observation {
	if len(obs) < 2 {
		return obs
	}
	out := make([]Observation, 0, len(obs))
	for i, o := range obs {
		if i > 0 && o.captures(obs[i-1].Time) {
			continue
		}
		if i < len(obs)-1 && o.captures(obs[i+1].Time) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// Registry holds the observations of one station and phase ordered by
// reference time.
type Registry struct {
	station Station
	phase   Phase
	obs     []Observation
}

// NewRegistry sorts obs by reference time (stable for equal times) and
// returns a registry over the sorted copy.
func NewRegistry(station Station, phase Phase, obs []Observation) *Registry {
	sorted := make([]Observation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})
	return &Registry{station: station, phase: phase, obs: sorted}
}

// Station returns the registry's station.
func (r *Registry) Station() Station { return r.station }

// Phase returns the registry's phase.
func (r *Registry) Phase() Phase { return r.phase }

// Len returns the number of observations.
func (r *Registry) Len() int { return len(r.obs) }

// Observations returns a copy of the ordered observations.
func (r *Registry) Observations() []Observation {
	out := make([]Observation, len(r.obs))
	copy(out, r.obs)
	return out
}

// Dedup returns the observations that survive the overlap check.
func (r *Registry) Dedup() []Observation {
	return Dedup(r.Observations())
}

// EventIDs returns the identifiers of the registry's observations.
func (r *Registry) EventIDs() []string {
	ids := make([]string, len(r.obs))
	for i, o := range r.obs {
		ids[i] = o.ID
	}
	return ids
}
