package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/picktune/internal/picks"
)

// RunContext is the immutable context of one run. It is built once from a
// RunConfig and passed by value; WithStation returns a scoped copy.
type RunContext struct {
	runID     string
	started   time.Time
	debug     bool
	workDir   string
	cacheDir  string
	picksDir  string
	replayDir string
	station   *picks.Station
}

// NewRunContext freezes the paths and flags of cfg under a fresh run id.
func NewRunContext(cfg *RunConfig, started time.Time) RunContext {
	return RunContext{
		runID:     uuid.NewString(),
		started:   started.UTC(),
		debug:     cfg.GetDebug(),
		workDir:   cfg.GetWorkDir(),
		cacheDir:  cfg.GetCacheDir(),
		picksDir:  cfg.GetPicksDir(),
		replayDir: filepath.Join(cfg.GetWorkDir(), "replay_picks"),
	}
}

// WithRunID returns a copy carrying id, used when the store assigns it.
func (r RunContext) WithRunID(id string) RunContext {
	r.runID = id
	return r
}

// WithStation returns a copy scoped to st.
func (r RunContext) WithStation(st picks.Station) RunContext {
	r.station = &st
	return r
}

func (r RunContext) RunID() string      { return r.runID }
func (r RunContext) Started() time.Time { return r.started }
func (r RunContext) Debug() bool        { return r.debug }
func (r RunContext) WorkDir() string    { return r.workDir }
func (r RunContext) CacheDir() string   { return r.cacheDir }
func (r RunContext) PicksDir() string   { return r.picksDir }

// Station returns the station the context is scoped to.
func (r RunContext) Station() (picks.Station, bool) {
	if r.station == nil {
		return picks.Station{}, false
	}
	return *r.station, true
}

// ReplayDir returns replay_picks/NET_STA/<phase> for the scoped station, or
// the replay root when unscoped.
func (r RunContext) ReplayDir(phase picks.Phase) string {
	if r.station == nil {
		return r.replayDir
	}
	return filepath.Join(r.replayDir, fmt.Sprintf("%s_%s", r.station.Network, r.station.Code), string(phase))
}

// ResultsPath returns results_<phase>.csv in the work directory.
func (r RunContext) ResultsPath(phase picks.Phase) string {
	return filepath.Join(r.workDir, fmt.Sprintf("results_%s.csv", phase))
}
