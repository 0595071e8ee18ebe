package search

import (
	"math/rand"

	"github.com/banshee-data/picktune/internal/params"
)

// Random draws every parameter uniformly inside its bounds. It never runs
// out of proposals.
type Random struct {
	space params.Space
	rng   *rand.Rand
}

// NewRandom returns a seeded random proposer over space.
func NewRandom(space params.Space, seed int64) *Random {
	return &Random{space: space, rng: rand.New(rand.NewSource(seed))}
}

// Next implements Proposer.
func (r *Random) Next() (params.Configuration, bool) {
	cfg := params.Configuration{}
	for _, s := range r.space {
		if s.Type == params.TypeInt {
			lo, hi := int(s.Min), int(s.Max)
			cfg[s.Name] = lo + r.rng.Intn(hi-lo+1)
			continue
		}
		cfg[s.Name] = s.Value(s.Min + r.rng.Float64()*(s.Max-s.Min))
	}
	return cfg, true
}

// Observe implements Proposer.
func (r *Random) Observe(params.Configuration, float64) {}
