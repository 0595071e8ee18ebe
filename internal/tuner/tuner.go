// Package tuner runs the station loop: it gathers manual picks, curates the
// waveforms, searches picker configurations and reports the outcome.
package tuner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/banshee-data/picktune/internal/archive"
	"github.com/banshee-data/picktune/internal/config"
	"github.com/banshee-data/picktune/internal/curate"
	"github.com/banshee-data/picktune/internal/evaluate"
	"github.com/banshee-data/picktune/internal/fsutil"
	"github.com/banshee-data/picktune/internal/monitoring"
	"github.com/banshee-data/picktune/internal/params"
	"github.com/banshee-data/picktune/internal/picker"
	"github.com/banshee-data/picktune/internal/picks"
	"github.com/banshee-data/picktune/internal/score"
	"github.com/banshee-data/picktune/internal/search"
	"github.com/banshee-data/picktune/internal/store"
	"github.com/banshee-data/picktune/internal/timeutil"
)

// ErrInsufficientPicks is returned when a station has fewer usable manual
// picks than the configured minimum.
var ErrInsufficientPicks = errors.New("insufficient picks")

// SearchOptions selects and configures the proposer.
type SearchOptions struct {
	Strategy       string `json:"strategy"`
	MaxRounds      int    `json:"max_rounds"`
	ValuesPerParam int    `json:"values_per_param"`
	TopK           int    `json:"top_k"`
	Seed           int64  `json:"seed"`
}

// Options configures a Tuner.
type Options struct {
	Phases    []picks.Phase `json:"phases"`
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
	MinMag    float64       `json:"min_mag"`
	MaxMag    float64       `json:"max_mag"`
	RadiusKm  float64       `json:"radius_km"`
	MaxPicks  int           `json:"max_picks"`
	MinPicks  int           `json:"min_picks"`
	NTrials   int           `json:"n_trials"`
	HalfWidth time.Duration `json:"window_half_width"`
	Noise     bool          `json:"noise_windows"`
	Metric    string        `json:"metric"`
	Tolerance time.Duration `json:"match_tolerance"`
	Workers   int           `json:"workers"`
	// Reference is the reference picker configuration file or directory.
	// Empty disables the comparison report.
	Reference       string        `json:"reference_picker_config,omitempty"`
	PickerBinary    string        `json:"picker_binary"`
	Inventory       string        `json:"inventory"`
	MetricsTextfile string        `json:"metrics_textfile,omitempty"`
	Search          SearchOptions `json:"search"`
}

// OptionsFromConfig maps a validated RunConfig onto Options.
func OptionsFromConfig(cfg *config.RunConfig) Options {
	return Options{
		Phases:          cfg.GetPhases(),
		Start:           cfg.GetStart(),
		End:             cfg.GetEnd(),
		MinMag:          cfg.GetMinMag(),
		MaxMag:          cfg.GetMaxMag(),
		RadiusKm:        cfg.GetRadiusKm(),
		MaxPicks:        cfg.GetMaxPicks(),
		MinPicks:        cfg.GetMinPicks(),
		NTrials:         cfg.GetNTrials(),
		HalfWidth:       cfg.GetWindowHalfWidth(),
		Noise:           cfg.GetNoiseWindows(),
		Metric:          cfg.GetMetric(),
		Tolerance:       cfg.GetMatchTolerance(),
		Workers:         cfg.GetWorkers(),
		Reference:       cfg.GetReferencePickerConfig(),
		PickerBinary:    cfg.GetPickerBinary(),
		Inventory:       cfg.GetInventory(),
		MetricsTextfile: cfg.GetMetricsTextfile(),
		Search: SearchOptions{
			Strategy:       cfg.GetSearchStrategy(),
			MaxRounds:      cfg.GetSearchMaxRounds(),
			ValuesPerParam: cfg.GetSearchValuesPerParam(),
			TopK:           cfg.GetSearchTopK(),
			Seed:           cfg.GetSearchSeed(),
		},
	}
}

// Deps are the collaborators of a Tuner. Store and Metrics are optional.
type Deps struct {
	Source  picks.Source
	Archive archive.Client
	Picker  picker.Picker
	FS      fsutil.FileSystem
	Store   *store.RunStore
	Metrics *monitoring.Metrics
	Clock   timeutil.Clock
}

// NotTuned records a station and phase the loop had to skip.
type NotTuned struct {
	Station string
	Phase   picks.Phase
	Reason  string
}

// PhaseResult is the outcome of tuning one station and phase.
type PhaseResult struct {
	Station picks.Station
	Phase   picks.Phase
	// Best is the best trial; Best.Config holds the tuned parameters only.
	Best search.Trial
	// Config is the full derived configuration of the best trial.
	Config    params.Configuration
	Trials    int
	Mean      float64
	StdDev    float64
	Curation  curate.Stats
	Entries   []curate.TimesEntry
	TimesPath string
}

// Summary is the outcome of a run.
type Summary struct {
	RunID    string
	Tuned    []PhaseResult
	NotTuned []NotTuned
	Reports  []string
}

// Tuner runs the station loop.
type Tuner struct {
	rc   config.RunContext
	opt  Options
	deps Deps
}

// New returns a Tuner.
func New(rc config.RunContext, opt Options, deps Deps) *Tuner {
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if len(opt.Phases) == 0 {
		opt.Phases = []picks.Phase{picks.PhaseP, picks.PhaseS}
	}
	return &Tuner{rc: rc, opt: opt, deps: deps}
}

// Run tunes every station in order, P before S. No error or panic escapes:
// failures are recorded in Summary.NotTuned and the loop moves on.
func (t *Tuner) Run(ctx context.Context, stations []picks.StationRef) Summary {
	rc := t.rc
	if t.deps.Store != nil {
		cfgJSON, _ := json.Marshal(t.opt)
		if id, err := t.deps.Store.StartRun(context.WithoutCancel(ctx), cfgJSON); err != nil {
			monitoring.Logf("[tuner] run store unavailable: %v", err)
			t.deps.Store = nil
		} else {
			rc = rc.WithRunID(id)
		}
	}
	sum := Summary{RunID: rc.RunID()}

	for _, ref := range stations {
		if ctx.Err() != nil {
			break
		}
		t.runStation(ctx, rc, ref, &sum)
	}

	if t.deps.Store != nil {
		status := store.StatusComplete
		if ctx.Err() != nil {
			status = store.StatusFailed
		}
		if err := t.deps.Store.FinishRun(context.WithoutCancel(ctx), rc.RunID(), status); err != nil {
			monitoring.Logf("[tuner] finish run: %v", err)
		}
	}
	if t.deps.Metrics != nil && t.opt.MetricsTextfile != "" {
		if err := t.deps.Metrics.WriteTextfile(t.opt.MetricsTextfile); err != nil {
			monitoring.Logf("[tuner] %v", err)
		}
	}
	monitoring.Logf("[tuner] run %s: %d tuned, %d not tuned", sum.RunID, len(sum.Tuned), len(sum.NotTuned))
	return sum
}

func (t *Tuner) runStation(ctx context.Context, rc config.RunContext, ref picks.StationRef, sum *Summary) {
	st, err := t.deps.Source.Station(ctx, ref)
	if err != nil {
		for _, ph := range t.opt.Phases {
			t.skip(ctx, rc, sum, ref.NetSta(), ph, err)
		}
		return
	}
	rc = rc.WithStation(st)

	var tuned []PhaseResult
	for _, ph := range t.opt.Phases {
		if ctx.Err() != nil {
			return
		}
		res, err := t.safeTunePhase(ctx, rc, st, ph)
		if err != nil {
			t.skip(ctx, rc, sum, st.NetSta(), ph, err)
			continue
		}
		tuned = append(tuned, *res)
		sum.Tuned = append(sum.Tuned, *res)
		if t.deps.Metrics != nil {
			t.deps.Metrics.Stations.WithLabelValues(string(ph), "tuned").Inc()
			t.deps.Metrics.BestScore.WithLabelValues(st.NetSta(), string(ph)).Set(res.Best.Score)
		}
	}

	if t.opt.Reference != "" && len(tuned) > 0 {
		path, err := t.safeCompare(ctx, rc, st, tuned)
		if err != nil {
			monitoring.Logf("[tuner] %s: comparison skipped: %v", st.NetSta(), err)
			return
		}
		sum.Reports = append(sum.Reports, path)
	}
}

func (t *Tuner) skip(ctx context.Context, rc config.RunContext, sum *Summary, station string, ph picks.Phase, err error) {
	monitoring.Logf("[tuner] %s %s not tuned: %v", station, ph, err)
	sum.NotTuned = append(sum.NotTuned, NotTuned{Station: station, Phase: ph, Reason: err.Error()})
	if t.deps.Metrics != nil {
		t.deps.Metrics.Stations.WithLabelValues(string(ph), "skipped").Inc()
	}
	if t.deps.Store != nil {
		if serr := t.deps.Store.RecordSkipped(context.WithoutCancel(ctx), rc.RunID(), station, string(ph), err.Error()); serr != nil {
			monitoring.Logf("[tuner] %v", serr)
		}
	}
}

func (t *Tuner) safeTunePhase(ctx context.Context, rc config.RunContext, st picks.Station, ph picks.Phase) (res *PhaseResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("[tuner] panic tuning %s %s: %v\n%s", st.NetSta(), ph, r, debug.Stack())
			res, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return t.TunePhase(ctx, rc, st, ph)
}

func (t *Tuner) safeCompare(ctx context.Context, rc config.RunContext, st picks.Station, tuned []PhaseResult) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("[tuner] panic comparing %s: %v\n%s", st.NetSta(), r, debug.Stack())
			path, err = "", fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Compare(ctx, rc, st, tuned)
}

// Engine returns the evaluation engine of a station and phase.
func (t *Tuner) Engine(rc config.RunContext, st picks.Station, ph picks.Phase) *evaluate.Engine {
	e := evaluate.NewEngine(t.deps.Picker, t.deps.FS, evaluate.Options{
		Station:   st,
		Phase:     ph,
		WorkDir:   rc.WorkDir(),
		PicksDir:  rc.PicksDir(),
		Workers:   t.opt.Workers,
		Debug:     rc.Debug(),
		Metric:    t.opt.Metric,
		Tolerance: t.opt.Tolerance,
	})
	e.Metrics = t.deps.Metrics
	return e
}

// Curate gathers the manual picks of st and ph and curates their waveforms
// into the times file. It returns the path of the times file and its
// entries.
func (t *Tuner) Curate(ctx context.Context, rc config.RunContext, st picks.Station, ph picks.Phase) (string, []curate.TimesEntry, curate.Stats, error) {
	rows, err := t.deps.Source.ManualPicks(ctx, picks.Query{
		Station:  st,
		Phase:    ph,
		Start:    t.opt.Start,
		End:      t.opt.End,
		MinMag:   t.opt.MinMag,
		MaxMag:   t.opt.MaxMag,
		RadiusKm: t.opt.RadiusKm,
		MaxPicks: t.opt.MaxPicks,
	})
	if err != nil {
		return "", nil, curate.Stats{}, fmt.Errorf("query manual picks: %w", err)
	}
	obs := picks.Observations(rows, ph, t.opt.HalfWidth)
	if len(obs) < t.opt.MinPicks {
		return "", nil, curate.Stats{}, fmt.Errorf("%w: %d manual picks, need %d", ErrInsufficientPicks, len(obs), t.opt.MinPicks)
	}

	cur := curate.NewCurator(t.deps.FS, t.deps.Archive, st, curate.Config{
		CacheDir: rc.CacheDir(),
		Noise:    t.opt.Noise,
	})
	cur.Metrics = t.deps.Metrics
	wfs, err := cur.CurateAll(ctx, picks.NewRegistry(st, ph, obs))
	if err != nil {
		return "", nil, cur.Stats(), err
	}
	if len(wfs) == 0 {
		return "", nil, cur.Stats(), fmt.Errorf("%w: no usable waveforms (%s)", ErrInsufficientPicks, cur.Stats())
	}

	timesPath := cur.TimesPath(ph)
	if err := curate.WriteTimes(t.deps.FS, timesPath, wfs); err != nil {
		return "", nil, cur.Stats(), err
	}
	entries, err := curate.ReadTimes(t.deps.FS, timesPath)
	if err != nil {
		return "", nil, cur.Stats(), err
	}
	return timesPath, entries, cur.Stats(), nil
}

// baseConfig returns the fixed parameters a phase is tuned on top of. S
// tuning starts from the best P row of the station.
func (t *Tuner) baseConfig(rc config.RunContext, st picks.Station, ph picks.Phase) (params.Configuration, error) {
	if ph != picks.PhaseS {
		return params.Configuration{}, nil
	}
	best, _, err := BestResult(t.deps.FS, rc.ResultsPath(picks.PhaseP), st.NetSta())
	if err != nil {
		return nil, err
	}
	return best, nil
}

func (t *Tuner) proposer(ph picks.Phase) search.Proposer {
	space := params.SpaceFor(ph)
	if t.opt.Search.Strategy == config.StrategyRandom {
		return search.NewRandom(space, t.opt.Search.Seed)
	}
	return search.NewNarrowingGrid(space, search.GridOptions{
		MaxRounds:      t.opt.Search.MaxRounds,
		ValuesPerParam: t.opt.Search.ValuesPerParam,
		TopK:           t.opt.Search.TopK,
		Budget:         t.opt.NTrials,
		Seed:           t.opt.Search.Seed,
	})
}

// TunePhase tunes one station and phase end to end.
func (t *Tuner) TunePhase(ctx context.Context, rc config.RunContext, st picks.Station, ph picks.Phase) (*PhaseResult, error) {
	started := t.deps.Clock.Now()
	base, err := t.baseConfig(rc, st, ph)
	if err != nil {
		return nil, err
	}
	timesPath, entries, stats, err := t.Curate(ctx, rc, st, ph)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("[tuner] %s %s: %d waveforms, %d trials", st.NetSta(), ph, len(entries), t.opt.NTrials)

	engine := t.Engine(rc, st, ph)
	res, err := search.Run(ctx, t.proposer(ph), t.opt.NTrials, func(ctx context.Context, cfg params.Configuration) (float64, error) {
		ev, err := engine.Evaluate(ctx, base.Merge(cfg), entries)
		return ev.Score, err
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(res.Trials) == 0 {
		return nil, errors.New("search produced no trials")
	}

	full, err := params.Derive(base.Merge(res.Best.Config))
	if err != nil {
		return nil, fmt.Errorf("best configuration: %w", err)
	}
	out := &PhaseResult{
		Station:   st,
		Phase:     ph,
		Best:      res.Best,
		Config:    full,
		Trials:    len(res.Trials),
		Mean:      res.Mean,
		StdDev:    res.StdDev,
		Curation:  stats,
		Entries:   entries,
		TimesPath: timesPath,
	}
	monitoring.Logf("[tuner] %s %s: best %.4f at trial %d (mean %.4f, sd %.4f) in %s",
		st.NetSta(), ph, res.Best.Score, res.Best.Number, res.Mean, res.StdDev,
		t.deps.Clock.Now().Sub(started).Round(time.Second))

	if err := AppendResult(t.deps.FS, rc.ResultsPath(ph), ph, st.NetSta(), full, res.Best.Score); err != nil {
		return nil, err
	}
	if err := t.writeTrials(rc, st, ph, res.Trials); err != nil {
		return nil, err
	}
	if t.deps.Store != nil {
		if err := t.deps.Store.RecordTrials(ctx, rc.RunID(), st.NetSta(), string(ph), res.Trials); err != nil {
			monitoring.Logf("[tuner] %v", err)
		}
		if err := t.deps.Store.RecordBest(ctx, rc.RunID(), st.NetSta(), string(ph), full, res.Best.Score); err != nil {
			monitoring.Logf("[tuner] %v", err)
		}
	}
	return out, nil
}

func (t *Tuner) writeTrials(rc config.RunContext, st picks.Station, ph picks.Phase, trials []search.Trial) error {
	var buf bytes.Buffer
	if err := search.WriteTrialsCSV(&buf, params.SpaceFor(ph).Names(), trials); err != nil {
		return err
	}
	path := filepath.Join(rc.WorkDir(), fmt.Sprintf("trials_%s_%s_%s.csv", st.Network, st.Code, ph))
	if err := t.deps.FS.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write trials: %w", err)
	}
	return nil
}

// Compare evaluates the reference and best configurations of every tuned
// phase and writes the station report. It returns the report path.
func (t *Tuner) Compare(ctx context.Context, rc config.RunContext, st picks.Station, tuned []PhaseResult) (string, error) {
	refParams, refPath, err := picker.LoadReference(t.deps.FS, t.opt.Reference, st)
	if err != nil {
		return "", err
	}
	monitoring.Logf("[tuner] %s: comparing against %s", st.NetSta(), refPath)

	rep := &Report{
		Station:      st,
		RadiusKm:     t.opt.RadiusKm,
		Start:        t.opt.Start,
		End:          t.opt.End,
		MaxPicks:     t.opt.MaxPicks,
		NTrials:      t.opt.NTrials,
		Collector:    score.NewCollector(),
		Entries:      map[picks.Phase][]curate.TimesEntry{},
		BestXML:      map[picks.Phase]string{},
		ReferenceXML: map[picks.Phase]string{},
		Binary:       t.opt.PickerBinary,
		Inventory:    t.opt.Inventory,
	}
	for _, res := range tuned {
		engine := t.Engine(rc, st, res.Phase)
		ph := string(res.Phase)

		ref, err := engine.EvaluateParams(ctx, refParams, score.LabelReference, res.Entries)
		if err != nil {
			return "", fmt.Errorf("evaluate reference %s: %w", ph, err)
		}
		best, err := engine.EvaluateAs(ctx, res.Config, score.LabelBest, res.Entries)
		if err != nil {
			return "", fmt.Errorf("evaluate best %s: %w", ph, err)
		}
		rep.Collector.Add(ph, score.LabelReference, ref.Counts)
		rep.Collector.Add(ph, score.LabelBest, best.Counts)
		rep.Entries[res.Phase] = res.Entries
		rep.BestXML[res.Phase] = engine.ConfigPath(score.LabelBest)
		rep.ReferenceXML[res.Phase] = engine.ConfigPath(score.LabelReference)
	}
	monitoring.Logf("[tuner] %s comparison:\n%s", st.NetSta(), score.FormatTable(rep.Collector))
	return rep.Write(t.deps.FS, rc.WorkDir())
}
