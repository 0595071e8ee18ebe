package search

import (
	"math"
	"math/rand"
	"sort"

	"github.com/banshee-data/picktune/internal/monitoring"
	"github.com/banshee-data/picktune/internal/params"
)

const (
	// singleValueMarginRatio widens the bounds around a lone top value by
	// this fraction of the value.
	singleValueMarginRatio = 0.1

	// minMargin is the smallest absolute margin around a lone top value.
	minMargin = 0.001

	// MaxCombos caps the cartesian product of one round.
	MaxCombos = 10000
)

// GridOptions configures NarrowingGrid. Zero values take the defaults
// 3 rounds, 5 values per parameter and the top 5 results.
type GridOptions struct {
	MaxRounds      int
	ValuesPerParam int
	TopK           int
	// Budget is the total number of trials the caller will run. When set,
	// each round is limited to Budget/MaxRounds combinations.
	Budget int
	// Seed drives the subsampling of rounds that exceed their limit.
	Seed int64
}

func (o GridOptions) roundLimit() int {
	if o.Budget <= 0 {
		return MaxCombos
	}
	return min(MaxCombos, max(o.Budget/o.MaxRounds, 1))
}

func (o GridOptions) withDefaults() GridOptions {
	if o.MaxRounds <= 0 {
		o.MaxRounds = 3
	}
	if o.ValuesPerParam <= 1 {
		o.ValuesPerParam = 5
	}
	if o.TopK <= 0 {
		o.TopK = 5
	}
	return o
}

type scored struct {
	cfg   params.Configuration
	score float64
}

// NarrowingGrid evaluates a grid over the current bounds, keeps the top K
// results, narrows every parameter to their span plus one grid step and
// repeats for MaxRounds rounds.
type NarrowingGrid struct {
	space  params.Space
	opt    GridOptions
	bounds map[string][2]float64

	round   int
	queue   []params.Configuration
	results []scored
	pending int
}

// NewNarrowingGrid returns a grid proposer over space.
func NewNarrowingGrid(space params.Space, opt GridOptions) *NarrowingGrid {
	g := &NarrowingGrid{space: space, opt: opt.withDefaults(), bounds: map[string][2]float64{}}
	for _, s := range space {
		g.bounds[s.Name] = [2]float64{s.Min, s.Max}
	}
	g.startRound()
	return g
}

// Round returns the current round, starting at 1.
func (g *NarrowingGrid) Round() int { return g.round }

// Bounds returns the current bounds of name.
func (g *NarrowingGrid) Bounds(name string) (float64, float64) {
	b := g.bounds[name]
	return b[0], b[1]
}

// Next implements Proposer.
func (g *NarrowingGrid) Next() (params.Configuration, bool) {
	if len(g.queue) == 0 && g.pending == 0 && len(g.results) > 0 {
		if g.round >= g.opt.MaxRounds {
			return nil, false
		}
		g.narrow()
		g.startRound()
	}
	if len(g.queue) == 0 {
		return nil, false
	}
	cfg := g.queue[0]
	g.queue = g.queue[1:]
	g.pending++
	return cfg.Clone(), true
}

// Observe implements Proposer.
func (g *NarrowingGrid) Observe(cfg params.Configuration, score float64) {
	if g.pending > 0 {
		g.pending--
	}
	g.results = append(g.results, scored{cfg: cfg, score: score})
}

func (g *NarrowingGrid) startRound() {
	g.round++
	g.results = nil
	limit := g.opt.roundLimit()
	for n := g.opt.ValuesPerParam; n >= 3; n-- {
		axes := g.axes(n)
		if gridSize(axes) <= limit {
			g.queue = product(g.space, axes)
			monitoring.Logf("[search] round %d/%d: %d combinations", g.round, g.opt.MaxRounds, len(g.queue))
			return
		}
	}
	// Even a coarse grid is over the limit: sample the full grid instead.
	axes := g.axes(g.opt.ValuesPerParam)
	size := gridSize(axes)
	rng := rand.New(rand.NewSource(g.opt.Seed + int64(g.round)))
	g.queue = sampleGrid(g.space, axes, size, min(limit, size), rng)
	monitoring.Logf("[search] round %d/%d: sampled %d of %d combinations", g.round, g.opt.MaxRounds, len(g.queue), size)
}

func (g *NarrowingGrid) axes(n int) [][]any {
	axes := make([][]any, len(g.space))
	for i, s := range g.space {
		b := g.bounds[s.Name]
		axes[i] = axis(s, b[0], b[1], n)
	}
	return axes
}

// gridSize returns the size of the cartesian product of axes, saturating
// at math.MaxInt.
func gridSize(axes [][]any) int {
	size := 1
	for _, a := range axes {
		if len(a) == 0 {
			return 0
		}
		if size > math.MaxInt/len(a) {
			return math.MaxInt
		}
		size *= len(a)
	}
	return size
}

// sampleGrid draws k distinct points of the product of axes without
// building it. Points are numbered as in product, last axis fastest.
func sampleGrid(space params.Space, axes [][]any, size, k int, rng *rand.Rand) []params.Configuration {
	chosen := make(map[int]bool, k)
	out := make([]params.Configuration, 0, k)
	// Floyd's algorithm.
	for j := size - k; j < size; j++ {
		idx := rng.Intn(j + 1)
		if chosen[idx] {
			idx = j
		}
		chosen[idx] = true
		out = append(out, gridPoint(space, axes, idx))
	}
	return out
}

// gridPoint returns the idx-th configuration of the product of axes.
func gridPoint(space params.Space, axes [][]any, idx int) params.Configuration {
	c := make(params.Configuration, len(space))
	for i := len(space) - 1; i >= 0; i-- {
		n := len(axes[i])
		c[space[i].Name] = axes[i][idx%n]
		idx /= n
	}
	return c
}

func (g *NarrowingGrid) narrow() {
	top := append([]scored(nil), g.results...)
	sort.SliceStable(top, func(i, j int) bool { return top[i].score > top[j].score })
	if len(top) > g.opt.TopK {
		top = top[:g.opt.TopK]
	}
	for _, s := range g.space {
		start, end, ok := narrowBounds(top, s.Name, g.opt.ValuesPerParam)
		if !ok {
			continue
		}
		start = math.Max(start, s.Min)
		end = math.Min(end, s.Max)
		if start > end {
			start, end = end, start
		}
		g.bounds[s.Name] = [2]float64{start, end}
	}
}

// narrowBounds returns the span of name across top widened by one grid
// step on each side.
func narrowBounds(top []scored, name string, valuesPerParam int) (float64, float64, bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, r := range top {
		v, ok := r.cfg.Float(name)
		if !ok {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 1) {
		return 0, 0, false
	}
	if lo == hi {
		margin := math.Max(math.Abs(lo)*singleValueMarginRatio, minMargin)
		return lo - margin, hi + margin, true
	}
	step := (hi - lo) / float64(valuesPerParam-1)
	return lo - step, hi + step, true
}

// axis returns the distinct values of s sampled at n points in [start, end].
func axis(s params.Spec, start, end float64, n int) []any {
	var out []any
	seen := map[any]bool{}
	for _, v := range generateGrid(start, end, n) {
		val := s.Value(v)
		if !seen[val] {
			seen[val] = true
			out = append(out, val)
		}
	}
	return out
}

// generateGrid creates n evenly spaced values between start and end
// inclusive.
func generateGrid(start, end float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{(start + end) / 2}
	}
	grid := make([]float64, n)
	step := (end - start) / float64(n-1)
	for i := range grid {
		grid[i] = start + step*float64(i)
	}
	return grid
}

// product returns the cartesian product of axes, last axis fastest.
func product(space params.Space, axes [][]any) []params.Configuration {
	out := []params.Configuration{{}}
	for i, s := range space {
		next := make([]params.Configuration, 0, len(out)*len(axes[i]))
		for _, base := range out {
			for _, v := range axes[i] {
				c := base.Clone()
				c[s.Name] = v
				next = append(next, c)
			}
		}
		out = next
	}
	return out
}
