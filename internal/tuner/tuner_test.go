package tuner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/picktune/internal/archive"
	"github.com/banshee-data/picktune/internal/config"
	"github.com/banshee-data/picktune/internal/fsutil"
	"github.com/banshee-data/picktune/internal/monitoring"
	"github.com/banshee-data/picktune/internal/mseed"
	"github.com/banshee-data/picktune/internal/picker"
	"github.com/banshee-data/picktune/internal/picks"
	"github.com/banshee-data/picktune/internal/store"
	"github.com/banshee-data/picktune/internal/timeutil"
)

var (
	t0      = time.Date(2023, 5, 6, 7, 0, 0, 0, time.UTC)
	station = picks.Station{Network: "CM", Code: "BAR2", Location: "00", Channel: "HH", Latitude: 4.6, Longitude: -74.1}
	bar2    = picks.StationRef{Network: "CM", Code: "BAR2", Location: "00", Channel: "HH"}
	nope    = picks.StationRef{Network: "CM", Code: "NOPE", Location: "00", Channel: "HH"}
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

// pickTimes returns n events an hour apart, S 10 s after P.
func pickTimes(n int) map[picks.Phase]map[string]time.Time {
	out := map[picks.Phase]map[string]time.Time{picks.PhaseP: {}, picks.PhaseS: {}}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("ev%d", i+1)
		p := t0.Add(time.Duration(i) * time.Hour)
		out[picks.PhaseP][id] = p
		out[picks.PhaseS][id] = p.Add(10 * time.Second)
	}
	return out
}

type fakeSource struct {
	times map[picks.Phase]map[string]time.Time
	panic picks.Phase
}

func (f *fakeSource) Station(_ context.Context, ref picks.StationRef) (picks.Station, error) {
	if ref.Code != station.Code {
		return picks.Station{}, fmt.Errorf("%s: %w", ref.NetSta(), picks.ErrStationNotFound)
	}
	return station, nil
}

func (f *fakeSource) ManualPicks(_ context.Context, q picks.Query) ([]picks.ManualPick, error) {
	if q.Phase == f.panic {
		panic("database went away")
	}
	var rows []picks.ManualPick
	for i := 1; i <= len(f.times[q.Phase]); i++ {
		id := fmt.Sprintf("ev%d", i)
		rows = append(rows, picks.ManualPick{
			EventID: id, Network: "CM", Station: "BAR2", Location: "00", Channel: "HHZ",
			Phase: q.Phase, Time: f.times[q.Phase][id],
		})
	}
	return rows, nil
}

// onsetArchive serves 100 Hz traces that are quiet until the window centre.
type onsetArchive struct {
	err error
}

func (a *onsetArchive) Fetch(_ context.Context, req archive.Request) (*mseed.Stream, error) {
	if a.err != nil {
		return nil, a.err
	}
	n := int(req.End.Sub(req.Start).Seconds() * 100)
	k := n / 2
	samples := make([]float64, n)
	for i := range samples {
		amp := 0.01
		if i >= k {
			amp = 1
		}
		samples[i] = amp * math.Sin(2*math.Pi*6*float64(i)/100)
	}
	return &mseed.Stream{Traces: []*mseed.Trace{{
		Network: req.Network, Station: req.Station, Location: req.Location, Channel: "HHZ",
		Start: req.Start, SampleRate: 100, Samples: samples,
	}}}, nil
}

// exactPicker returns the manual pick of every waveform.
func exactPicker(times map[picks.Phase]map[string]time.Time) *picker.Stub {
	stub := picker.NewStub(nil)
	stub.InvokeFunc = func(inv picker.Invocation) ([]time.Time, error) {
		id, _, _ := strings.Cut(filepath.Base(inv.Waveform), ".")
		if p, ok := times[inv.Phase][id]; ok {
			return []time.Time{p}, nil
		}
		return nil, nil
	}
	return stub
}

type fixture struct {
	fs      *fsutil.MemoryFileSystem
	stub    *picker.Stub
	runs    *store.RunStore
	metrics *monitoring.Metrics
	source  *fakeSource
	archive *onsetArchive
	opt     Options
	rc      config.RunContext
}

func newFixture(t *testing.T, events int) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	times := pickTimes(events)
	workDir := "/work"
	cfg := &config.RunConfig{WorkDir: &workDir}
	return &fixture{
		fs:      fsutil.NewMemoryFileSystem(),
		stub:    exactPicker(times),
		runs:    store.NewRunStore(db, time.Now),
		metrics: monitoring.NewMetrics(),
		source:  &fakeSource{times: times},
		archive: &onsetArchive{},
		opt: Options{
			Phases:       []picks.Phase{picks.PhaseP, picks.PhaseS},
			Start:        t0.Add(-time.Hour),
			End:          t0.Add(24 * time.Hour),
			MinMag:       1.2,
			MaxMag:       4,
			RadiusKm:     222,
			MaxPicks:     50,
			MinPicks:     5,
			NTrials:      4,
			HalfWidth:    30 * time.Second,
			Metric:       "f1",
			Tolerance:    250 * time.Millisecond,
			Workers:      2,
			PickerBinary: "scautopick",
			Inventory:    "inventory.xml",
			Search:       SearchOptions{Strategy: config.StrategyRandom, Seed: 7},
		},
		rc: config.NewRunContext(cfg, t0),
	}
}

func (f *fixture) tuner() *Tuner {
	return New(f.rc, f.opt, Deps{
		Source:  f.source,
		Archive: f.archive,
		Picker:  f.stub,
		FS:      f.fs,
		Store:   f.runs,
		Metrics: f.metrics,
		Clock:   timeutil.NewMockClock(t0),
	})
}

func TestTuner_Run(t *testing.T) {
	f := newFixture(t, 6)
	require.NoError(t, f.fs.WriteFile("/ref/station_CM_BAR2", []byte("detecStream = HH\ntrigOn = 3.0\n"), 0o644))
	f.opt.Reference = "/ref"
	f.opt.MetricsTextfile = filepath.Join(t.TempDir(), "picktune.prom")
	ctx := context.Background()

	sum := f.tuner().Run(ctx, []picks.StationRef{bar2, nope})

	require.Len(t, sum.Tuned, 2)
	assert.Equal(t, picks.PhaseP, sum.Tuned[0].Phase)
	assert.Equal(t, picks.PhaseS, sum.Tuned[1].Phase)
	for _, res := range sum.Tuned {
		assert.Equal(t, 4, res.Trials)
		assert.Len(t, res.Entries, 6)
		assert.Equal(t, 6, res.Curation.Fetched)
		assert.Greater(t, res.Best.Score, 0.0)
		assert.True(t, f.fs.Exists(res.TimesPath), res.TimesPath)
	}

	require.Len(t, sum.NotTuned, 2)
	for _, nt := range sum.NotTuned {
		assert.Equal(t, "CM.NOPE", nt.Station)
		assert.Contains(t, nt.Reason, "station not found")
	}

	// S is tuned on top of the best P row.
	pBest, _, err := BestResult(f.fs, "/work/results_P.csv", "CM.BAR2")
	require.NoError(t, err)
	var sRenders int
	for _, req := range f.stub.Rendered() {
		if req.Phase != picks.PhaseS || req.Label != "candidate" {
			continue
		}
		sRenders++
		assert.Equal(t, pBest["p_sta"], req.Config["p_sta"])
		assert.Equal(t, pBest["trig_on"], req.Config["trig_on"])
	}
	assert.Equal(t, 4, sRenders)

	_, _, err = BestResult(f.fs, "/work/results_S.csv", "CM.BAR2")
	assert.NoError(t, err)
	assert.True(t, f.fs.Exists("/work/trials_CM_BAR2_P.csv"))
	assert.True(t, f.fs.Exists("/work/trials_CM_BAR2_S.csv"))

	require.Len(t, sum.Reports, 1)
	report, err := f.fs.ReadFile(sum.Reports[0])
	require.NoError(t, err)
	assert.Contains(t, string(report), "P event_ids (6):")
	assert.Contains(t, string(report), "scautopick commands using best XML")
	assert.Contains(t, string(report), "scautopick commands using reference XML")
	assert.True(t, f.fs.Exists("/work/replay_picks/CM_BAR2/P"))

	run, err := f.runs.GetRun(ctx, sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusComplete, run.Status)
	trials, err := f.runs.Trials(ctx, sum.RunID, "CM.BAR2", "P")
	require.NoError(t, err)
	assert.Len(t, trials, 4)
	best, err := f.runs.LatestBest(ctx, "CM.BAR2", "S")
	require.NoError(t, err)
	assert.Equal(t, sum.RunID, best.RunID)
	skipped, err := f.runs.Skipped(ctx, sum.RunID)
	require.NoError(t, err)
	assert.Len(t, skipped, 2)

	prom, err := os.ReadFile(f.opt.MetricsTextfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `picktune_stations_total{outcome="tuned",phase="P"} 1`)
	assert.Contains(t, string(prom), `picktune_stations_total{outcome="skipped",phase="S"} 1`)
}

func TestTuner_InsufficientPicks(t *testing.T) {
	f := newFixture(t, 3)
	sum := f.tuner().Run(context.Background(), []picks.StationRef{bar2})

	assert.Empty(t, sum.Tuned)
	require.Len(t, sum.NotTuned, 2)
	assert.Contains(t, sum.NotTuned[0].Reason, ErrInsufficientPicks.Error())
	// Without a P row there is nothing to tune S on.
	assert.Contains(t, sum.NotTuned[1].Reason, ErrNoPResult.Error())
	assert.Empty(t, f.stub.Invocations())
}

func TestTuner_NoWaveforms(t *testing.T) {
	f := newFixture(t, 6)
	f.archive.err = fmt.Errorf("fetch: %w", archive.ErrNoData)
	f.opt.Phases = []picks.Phase{picks.PhaseP}

	sum := f.tuner().Run(context.Background(), []picks.StationRef{bar2})

	require.Len(t, sum.NotTuned, 1)
	assert.Contains(t, sum.NotTuned[0].Reason, "no usable waveforms")
}

func TestTuner_PanicIsContained(t *testing.T) {
	f := newFixture(t, 6)
	f.source.panic = picks.PhaseS

	sum := f.tuner().Run(context.Background(), []picks.StationRef{bar2})

	require.Len(t, sum.Tuned, 1)
	assert.Equal(t, picks.PhaseP, sum.Tuned[0].Phase)
	require.Len(t, sum.NotTuned, 1)
	assert.Equal(t, picks.PhaseS, sum.NotTuned[0].Phase)
	assert.Contains(t, sum.NotTuned[0].Reason, "panic: database went away")
}

func TestTuner_CancelledRunIsFailed(t *testing.T) {
	f := newFixture(t, 6)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum := f.tuner().Run(ctx, []picks.StationRef{bar2})

	assert.Empty(t, sum.Tuned)
	run, err := f.runs.GetRun(context.Background(), sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, run.Status)
}

func TestTuner_TunePhaseWithoutPResult(t *testing.T) {
	f := newFixture(t, 6)
	tu := f.tuner()
	_, err := tu.TunePhase(context.Background(), f.rc.WithStation(station), station, picks.PhaseS)
	assert.True(t, errors.Is(err, ErrNoPResult), "got %v", err)
}

func TestOptionsFromConfig(t *testing.T) {
	start, end := "2025-10-15", "2025-10-25T23:59:59"
	strategy := config.StrategyRandom
	cfg := &config.RunConfig{
		Stations: []string{"4O.GV02"},
		Phases:   []string{"S"},
		Start:    &start,
		End:      &end,
		Search:   &config.SearchConfig{Strategy: &strategy},
	}
	opt := OptionsFromConfig(cfg)
	assert.Equal(t, []picks.Phase{picks.PhaseS}, opt.Phases)
	assert.Equal(t, time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC), opt.Start)
	assert.Equal(t, 1.2, opt.MinMag)
	assert.Equal(t, 222.0, opt.RadiusKm)
	assert.Equal(t, 100, opt.NTrials)
	assert.Equal(t, 180*time.Second, opt.HalfWidth)
	assert.Equal(t, config.StrategyRandom, opt.Search.Strategy)
	assert.Equal(t, 3, opt.Search.MaxRounds)
}
