// Package curate turns manual pick observations into screened, cached
// waveform files ready for the picker.
package curate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/banshee-data/picktune/internal/archive"
	"github.com/banshee-data/picktune/internal/dsp"
	"github.com/banshee-data/picktune/internal/fsutil"
	"github.com/banshee-data/picktune/internal/monitoring"
	"github.com/banshee-data/picktune/internal/mseed"
	"github.com/banshee-data/picktune/internal/picks"
	"github.com/banshee-data/picktune/internal/security"
)

// stampLayout is the timestamp embedded in cache file names.
const stampLayout = "20060102T150405"

// DefaultNoiseGap separates the end of a noise window from its source pick.
const DefaultNoiseGap = 5 * time.Second

// Config controls curation.
type Config struct {
	// CacheDir is the root of the waveform cache.
	CacheDir string
	// Noise derives one noise-only window per accepted observation.
	Noise bool
	// NoiseGap defaults to DefaultNoiseGap.
	NoiseGap time.Duration
	// Gate defaults to dsp.DefaultGate.
	Gate *dsp.GateConfig
}

func (c Config) noiseGap() time.Duration {
	if c.NoiseGap > 0 {
		return c.NoiseGap
	}
	return DefaultNoiseGap
}

func (c Config) gate() dsp.GateConfig {
	if c.Gate != nil {
		return *c.Gate
	}
	return dsp.DefaultGate
}

// CuratedWaveform is an accepted waveform stored in the cache. Start,
// SampleRate, NPTS and Samples describe the first trace by channel code.
type CuratedWaveform struct {
	Path        string
	Observation picks.Observation
	Start       time.Time
	SampleRate  float64
	NPTS        int
	Samples     []float64
	// Gate is nil for cached and noise waveforms.
	Gate   *dsp.GateResult
	Cached bool
}

// Stats counts curation outcomes.
type Stats struct {
	Accepted    int
	Cached      int
	Fetched     int
	NoData      int
	Unavailable int
	Rejected    int
	Noise       int
	Failed      int
}

// Dropped returns the number of observations that produced no waveform.
func (s Stats) Dropped() int {
	return s.NoData + s.Unavailable + s.Rejected + s.Failed
}

func (s Stats) String() string {
	return fmt.Sprintf("accepted=%d (cached=%d fetched=%d noise=%d) nodata=%d unavailable=%d rejected=%d failed=%d",
		s.Accepted, s.Cached, s.Fetched, s.Noise, s.NoData, s.Unavailable, s.Rejected, s.Failed)
}

// Curator fetches, screens and caches the waveforms of one station.
type Curator struct {
	fs      fsutil.FileSystem
	archive archive.Client
	station picks.Station
	cfg     Config
	stats   Stats

	// Metrics is optional.
	Metrics *monitoring.Metrics
}

// NewCurator returns a curator for station reading through client.
func NewCurator(fs fsutil.FileSystem, client archive.Client, station picks.Station, cfg Config) *Curator {
	return &Curator{fs: fs, archive: client, station: station, cfg: cfg}
}

// Stats returns the outcome counters accumulated so far.
func (c *Curator) Stats() Stats { return c.stats }

// Dir returns the cache directory for one phase of the curator's station.
func (c *Curator) Dir(phase picks.Phase) string {
	return filepath.Join(c.cfg.CacheDir, security.SanitizeFilename(c.station.Code), string(phase))
}

// CachePath returns the deterministic cache file of obs:
// <cache>/<STA>/<PHASE>/<event>.<STA>.<LOC>.<CH>_<stamp>.mseed. The stamp
// is the pick time, or the window centre for noise observations.
func (c *Curator) CachePath(obs picks.Observation) string {
	name := fmt.Sprintf("%s.%s.%s.%s_%s.mseed", obs.ID, c.station.Code, c.station.Location,
		c.station.Channel, referenceTime(obs).UTC().Format(stampLayout))
	return filepath.Join(c.Dir(obs.Phase), security.SanitizeFilename(name))
}

func referenceTime(obs picks.Observation) time.Time {
	if obs.IsNoise() {
		return obs.WindowStart.Add(obs.Duration() / 2)
	}
	return obs.Time
}

// NoiseObservation derives a noise-only window of the same duration as obs,
// ending gap before its pick. ok is false when obs has no usable window.
func NoiseObservation(obs picks.Observation, gap time.Duration) (picks.Observation, bool) {
	d := obs.Duration()
	if d <= 0 || obs.IsNoise() {
		return picks.Observation{}, false
	}
	end := obs.Time.Add(-gap)
	return picks.Observation{
		ID:          obs.ID + picks.NoiseSuffix,
		Phase:       obs.Phase,
		WindowStart: end.Add(-d),
		WindowEnd:   end,
	}, true
}

// Curate returns the waveform for obs, loading it from the cache when
// present. A nil waveform with a nil error means obs was dropped; the
// reason is counted in Stats. Only context cancellation and cache write
// failures are returned as errors.
func (c *Curator) Curate(ctx context.Context, obs picks.Observation) (*CuratedWaveform, error) {
	path := c.CachePath(obs)
	if c.fs.Exists(path) {
		wf, err := c.load(path, obs)
		if err == nil {
			c.accept(obs, "cached")
			c.stats.Cached++
			return wf, nil
		}
		monitoring.Logf("[curate] ignoring unreadable cache file %s: %v", path, err)
	}

	st, err := c.archive.Fetch(ctx, archive.Request{
		Network:  c.station.Network,
		Station:  c.station.Code,
		Location: c.station.Location,
		Channel:  c.station.Channel + "*",
		Start:    obs.WindowStart,
		End:      obs.WindowEnd,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.observeFetch(fetchResult(err))
		c.drop(obs, err)
		return nil, nil
	}
	c.observeFetch("ok")

	st.Trim(obs.WindowStart, obs.WindowEnd)
	st.Merge()
	st.Sort()
	if st.Len() == 0 || len(st.Traces[0].Samples) == 0 {
		c.drop(obs, fmt.Errorf("%s: %w after trim", obs.ID, archive.ErrNoData))
		return nil, nil
	}
	for _, tr := range st.Traces {
		tr.Start = tr.Start.Truncate(time.Microsecond)
	}

	first := st.Traces[0]
	wf := newWaveform(path, obs, first)
	if obs.HasPick() {
		res := c.cfg.gate().Gate(first.Samples, first.SampleRate, obs.Time.Sub(first.Start))
		wf.Gate = &res
		if res.Rejected {
			monitoring.Logf("[curate] %s rejected: snr=%.2f peaks=%d", obs.ID, res.SNR, res.Peaks)
			c.stats.Rejected++
			c.observe("rejected")
			return nil, nil
		}
	}

	var buf bytes.Buffer
	if err := mseed.Write(&buf, st); err != nil {
		return nil, fmt.Errorf("encode %s: %w", obs.ID, err)
	}
	if err := c.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if err := c.fs.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	c.accept(obs, "fetched")
	c.stats.Fetched++
	return wf, nil
}

// CurateAll curates the deduplicated observations of reg in order. When
// noise windows are enabled each accepted observation is followed by its
// noise window.
func (c *Curator) CurateAll(ctx context.Context, reg *picks.Registry) ([]*CuratedWaveform, error) {
	var out []*CuratedWaveform
	for _, obs := range reg.Dedup() {
		wf, err := c.Curate(ctx, obs)
		if err != nil {
			return out, err
		}
		if wf == nil {
			continue
		}
		out = append(out, wf)
		if !c.cfg.Noise {
			continue
		}
		noise, ok := NoiseObservation(obs, c.cfg.noiseGap())
		if !ok {
			continue
		}
		nwf, err := c.Curate(ctx, noise)
		if err != nil {
			return out, err
		}
		if nwf != nil {
			out = append(out, nwf)
		}
	}
	monitoring.Logf("[curate] %s %s: %s", c.station.NetSta(), reg.Phase(), c.stats)
	return out, nil
}

func (c *Curator) load(path string, obs picks.Observation) (*CuratedWaveform, error) {
	data, err := c.fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	st, err := mseed.Decode(data)
	if err != nil {
		return nil, err
	}
	st.Sort()
	if st.Len() == 0 {
		return nil, errors.New("empty waveform file")
	}
	wf := newWaveform(path, obs, st.Traces[0])
	wf.Cached = true
	return wf, nil
}

func newWaveform(path string, obs picks.Observation, tr *mseed.Trace) *CuratedWaveform {
	return &CuratedWaveform{
		Path:        path,
		Observation: obs,
		Start:       tr.Start,
		SampleRate:  tr.SampleRate,
		NPTS:        len(tr.Samples),
		Samples:     tr.Samples,
	}
}

func (c *Curator) accept(obs picks.Observation, how string) {
	c.stats.Accepted++
	if obs.IsNoise() {
		c.stats.Noise++
		how = "noise"
	}
	c.observe(how)
}

func (c *Curator) drop(obs picks.Observation, err error) {
	switch {
	case errors.Is(err, archive.ErrNoData):
		c.stats.NoData++
		c.observe("nodata")
	case errors.Is(err, archive.ErrGateway):
		c.stats.Unavailable++
		c.observe("unavailable")
	default:
		c.stats.Failed++
		c.observe("failed")
	}
	monitoring.Logf("[curate] dropping %s: %v", obs.ID, err)
}

func fetchResult(err error) string {
	switch {
	case errors.Is(err, archive.ErrNoData):
		return "nodata"
	case errors.Is(err, archive.ErrGateway):
		return "unavailable"
	}
	return "error"
}

func (c *Curator) observe(outcome string) {
	if c.Metrics != nil {
		c.Metrics.Waveforms.WithLabelValues(outcome).Inc()
	}
}

func (c *Curator) observeFetch(result string) {
	if c.Metrics != nil {
		c.Metrics.ArchiveFetches.WithLabelValues(result).Inc()
	}
}
