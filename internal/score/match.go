package score

import (
	"sort"
	"time"
)

// DefaultTolerance is the match tolerance used when none is configured.
const DefaultTolerance = 250 * time.Millisecond

// MatchCounts holds pick-level agreement counts. Counts are additive across
// waveforms and stations.
type MatchCounts struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	FN int `json:"fn"`
}

// Add returns the element-wise sum of c and o.
func (c MatchCounts) Add(o MatchCounts) MatchCounts {
	return MatchCounts{TP: c.TP + o.TP, FP: c.FP + o.FP, FN: c.FN + o.FN}
}

// IsZero reports whether no picks were counted.
func (c MatchCounts) IsZero() bool {
	return c.TP == 0 && c.FP == 0 && c.FN == 0
}

type candidatePair struct {
	obs, pred int
	diff      time.Duration
}

// Match pairs observed with predicted instants. A pair is eligible when the
// instants are at most tol apart. Eligible pairs are accepted greedily by
// increasing time difference, ties broken by observed index and then by
// predicted index, and each instant is used at most once. Matched pairs are
// true positives, leftover observed instants false negatives and leftover
// predicted instants false positives.
func Match(observed, predicted []time.Time, tol time.Duration) MatchCounts {
	var pairs []candidatePair
	for i, o := range observed {
		for j, p := range predicted {
			d := absDuration(p.Sub(o))
			if d <= tol {
				pairs = append(pairs, candidatePair{obs: i, pred: j, diff: d})
			}
		}
	}

	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].diff != pairs[b].diff {
			return pairs[a].diff < pairs[b].diff
		}
		if pairs[a].obs != pairs[b].obs {
			return pairs[a].obs < pairs[b].obs
		}
		return pairs[a].pred < pairs[b].pred
	})

	usedObs := make([]bool, len(observed))
	usedPred := make([]bool, len(predicted))
	tp := 0
	for _, p := range pairs {
		if usedObs[p.obs] || usedPred[p.pred] {
			continue
		}
		usedObs[p.obs] = true
		usedPred[p.pred] = true
		tp++
	}

	return MatchCounts{
		TP: tp,
		FP: len(predicted) - tp,
		FN: len(observed) - tp,
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
