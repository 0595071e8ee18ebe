// Package search proposes picker configurations and tracks the best one.
package search

import (
	"context"
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/picktune/internal/params"
)

// Proposer suggests configurations and learns from their scores.
type Proposer interface {
	// Next returns the next configuration, or false when exhausted.
	Next() (params.Configuration, bool)
	// Observe reports the score of a configuration returned by Next.
	Observe(cfg params.Configuration, score float64)
}

// Trial is one evaluated configuration.
type Trial struct {
	Number int
	Config params.Configuration
	Score  float64
	// Err is set when the configuration was rejected before evaluation.
	Err error
}

// Result summarises a search.
type Result struct {
	Trials []Trial
	Best   Trial
	Mean   float64
	StdDev float64
}

// Evaluator scores one configuration. Errors wrapping
// params.ErrInconsistentConfiguration score params.WorstScore and the
// search continues; any other error stops it.
type Evaluator func(ctx context.Context, cfg params.Configuration) (float64, error)

// Run draws up to n configurations from p. The best trial is the first one
// reaching the highest score.
func Run(ctx context.Context, p Proposer, n int, eval Evaluator) (Result, error) {
	var res Result
	res.Best.Score = math.Inf(-1)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return res.finish(), err
		}
		cfg, ok := p.Next()
		if !ok {
			break
		}
		score, err := eval(ctx, cfg)
		trial := Trial{Number: i, Config: cfg, Score: score}
		if err != nil {
			if !errors.Is(err, params.ErrInconsistentConfiguration) {
				return res.finish(), err
			}
			trial.Score = params.WorstScore
			trial.Err = err
		}
		p.Observe(cfg, trial.Score)
		res.Trials = append(res.Trials, trial)
		if trial.Score > res.Best.Score {
			res.Best = trial
		}
	}
	return res.finish(), nil
}

func (r Result) finish() Result {
	if len(r.Trials) == 0 {
		r.Best = Trial{}
		return r
	}
	scores := make([]float64, len(r.Trials))
	for i, t := range r.Trials {
		scores[i] = t.Score
	}
	if len(scores) == 1 {
		r.Mean, r.StdDev = scores[0], 0
		return r
	}
	r.Mean, r.StdDev = stat.MeanStdDev(scores, nil)
	return r
}
