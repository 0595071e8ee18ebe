// Package evaluate scores one picker configuration against the curated
// waveforms of a station and phase.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/picktune/internal/curate"
	"github.com/banshee-data/picktune/internal/fsutil"
	"github.com/banshee-data/picktune/internal/monitoring"
	"github.com/banshee-data/picktune/internal/params"
	"github.com/banshee-data/picktune/internal/picker"
	"github.com/banshee-data/picktune/internal/picks"
	"github.com/banshee-data/picktune/internal/score"
)

// Options configures an Engine.
type Options struct {
	Station picks.Station
	Phase   picks.Phase
	// WorkDir receives the rendered configuration documents.
	WorkDir string
	// PicksDir receives one picker result per waveform. It is emptied at
	// the start of every evaluation.
	PicksDir string
	// Workers bounds concurrent picker runs; zero means one per CPU.
	Workers int
	// Debug runs the picker sequentially.
	Debug bool
	// Metric names the objective, see score.Objective. Empty means "f1".
	Metric string
	// Tolerance is the pick matching tolerance; zero means
	// score.DefaultTolerance.
	Tolerance time.Duration
}

func (o Options) workers() int {
	switch {
	case o.Debug:
		return 1
	case o.Workers > 0:
		return o.Workers
	}
	return runtime.NumCPU()
}

func (o Options) tolerance() time.Duration {
	if o.Tolerance > 0 {
		return o.Tolerance
	}
	return score.DefaultTolerance
}

// WaveformResult is the outcome of one picker run.
type WaveformResult struct {
	Entry  curate.TimesEntry
	Picks  []time.Time
	Counts score.MatchCounts
	// Err is the picker failure, if any; the waveform then has no picks.
	Err error
}

// Evaluation is the outcome of one configuration over all waveforms.
type Evaluation struct {
	Config      params.Configuration
	Observed    []float64
	Predicted   []float64
	Counts      score.MatchCounts
	PerWaveform []WaveformResult
	// Score is the objective value of Observed against Predicted.
	Score float64
}

// Engine runs the picker over every waveform of a times file.
type Engine struct {
	picker picker.Picker
	fs     fsutil.FileSystem
	opt    Options

	// Metrics is optional.
	Metrics *monitoring.Metrics
}

// NewEngine returns an engine invoking p.
func NewEngine(p picker.Picker, fs fsutil.FileSystem, opt Options) *Engine {
	return &Engine{picker: p, fs: fs, opt: opt}
}

// ConfigPath returns the document rendered for label.
func (e *Engine) ConfigPath(label string) string {
	name := fmt.Sprintf("exc_%s_%s.xml", e.opt.Station.Code, e.opt.Phase)
	if label != "" && label != "candidate" {
		name = fmt.Sprintf("exc_%s_%s_%s.xml", label, e.opt.Station.Code, e.opt.Phase)
	}
	return filepath.Join(e.opt.WorkDir, name)
}

// Evaluate derives cfg, renders it and scores it over entries. An
// inconsistent configuration returns params.ErrInconsistentConfiguration
// with the worst score and never reaches the picker.
func (e *Engine) Evaluate(ctx context.Context, cfg params.Configuration, entries []curate.TimesEntry) (Evaluation, error) {
	return e.EvaluateAs(ctx, cfg, "candidate", entries)
}

// EvaluateAs is Evaluate with the configuration document rendered under
// label, e.g. "best".
func (e *Engine) EvaluateAs(ctx context.Context, cfg params.Configuration, label string, entries []curate.TimesEntry) (Evaluation, error) {
	derived, err := params.Derive(cfg)
	if err != nil {
		return Evaluation{Config: cfg, Score: params.WorstScore}, err
	}
	ev, err := e.run(ctx, picker.RenderRequest{Config: derived, Label: label}, entries)
	ev.Config = derived
	return ev, err
}

// EvaluateParams scores an already rendered parameter list, such as a
// reference station configuration.
func (e *Engine) EvaluateParams(ctx context.Context, ps []params.Param, label string, entries []curate.TimesEntry) (Evaluation, error) {
	return e.run(ctx, picker.RenderRequest{Params: ps, Label: label}, entries)
}

func (e *Engine) run(ctx context.Context, req picker.RenderRequest, entries []curate.TimesEntry) (Evaluation, error) {
	started := time.Now()
	req.Station = e.opt.Station
	req.Phase = e.opt.Phase
	req.Path = e.ConfigPath(req.Label)
	cfgPath, err := e.picker.Render(ctx, req)
	if err != nil {
		return Evaluation{Score: params.WorstScore}, fmt.Errorf("render configuration: %w", err)
	}

	if err := e.resetPicksDir(); err != nil {
		return Evaluation{Score: params.WorstScore}, err
	}

	results := make([]WaveformResult, len(entries))
	var g errgroup.Group
	g.SetLimit(e.opt.workers())
	for i, entry := range entries {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			inv := picker.Invocation{
				Phase:      e.opt.Phase,
				Waveform:   entry.Path,
				ConfigPath: cfgPath,
				ResultPath: picker.ResultPath(e.opt.PicksDir, entry.Path),
			}
			got, err := e.picker.Invoke(ctx, inv)
			if err != nil {
				monitoring.Logf("[engine] %s: %v", filepath.Base(entry.Path), err)
				if e.Metrics != nil {
					e.Metrics.PickerFailures.Inc()
				}
				got = nil
			}
			results[i] = WaveformResult{Entry: entry, Picks: got, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Evaluation{Score: params.WorstScore}, err
	}

	ev := Evaluation{PerWaveform: results}
	observed := make([][]float64, len(results))
	predicted := make([][]float64, len(results))
	tol := e.opt.tolerance()
	for i := range results {
		r := &results[i]
		var truth []time.Time
		if r.Entry.HasPick() {
			truth = []time.Time{r.Entry.Pick}
		}
		observed[i] = score.Transform(truth, r.Entry.Start, r.Entry.SampleRate, r.Entry.NPTS)
		predicted[i] = score.Transform(r.Picks, r.Entry.Start, r.Entry.SampleRate, r.Entry.NPTS)
		r.Counts = score.Match(truth, r.Picks, tol)
		ev.Counts = ev.Counts.Add(r.Counts)
	}
	ev.Observed = score.Concat(observed)
	ev.Predicted = score.Concat(predicted)

	ev.Score, err = score.Objective(e.opt.Metric, ev.Observed, ev.Predicted)
	if err != nil {
		return Evaluation{Score: params.WorstScore}, err
	}
	if e.Metrics != nil {
		e.Metrics.Evaluations.Inc()
		e.Metrics.EvaluationTimes.Observe(time.Since(started).Seconds())
	}
	return ev, nil
}

func (e *Engine) resetPicksDir() error {
	if e.opt.PicksDir == "" {
		return errors.New("picks directory not set")
	}
	if err := e.fs.RemoveAll(e.opt.PicksDir); err != nil {
		return fmt.Errorf("clear picks dir: %w", err)
	}
	if err := e.fs.MkdirAll(e.opt.PicksDir, 0o755); err != nil {
		return fmt.Errorf("create picks dir: %w", err)
	}
	return nil
}
