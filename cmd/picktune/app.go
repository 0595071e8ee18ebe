package main

import (
	"fmt"
	"time"

	"github.com/banshee-data/picktune/internal/archive"
	"github.com/banshee-data/picktune/internal/config"
	"github.com/banshee-data/picktune/internal/fsutil"
	"github.com/banshee-data/picktune/internal/httputil"
	"github.com/banshee-data/picktune/internal/monitoring"
	"github.com/banshee-data/picktune/internal/picker"
	"github.com/banshee-data/picktune/internal/picks"
	"github.com/banshee-data/picktune/internal/security"
	"github.com/banshee-data/picktune/internal/store"
	"github.com/banshee-data/picktune/internal/timeutil"
	"github.com/banshee-data/picktune/internal/tuner"
)

const archiveTimeout = 2 * time.Minute

// app holds the wired collaborators of one command invocation.
type app struct {
	cfg    *config.RunConfig
	rc     config.RunContext
	fs     fsutil.FileSystem
	tuner  *tuner.Tuner
	source *picks.SQLSource
	db     *store.DB
}

func newArchive(cfg *config.RunConfig) archive.Client {
	client := httputil.NewStandardClient(archiveTimeout)
	primary := archive.NewFDSNClient(cfg.GetFDSNPrimary(), client)
	if cfg.GetFDSNSecondary() == "" {
		return primary
	}
	return archive.Failover{Primary: primary, Secondary: archive.NewFDSNClient(cfg.GetFDSNSecondary(), client)}
}

// newApp opens the manual pick database and the run store and wires a
// Tuner. withStore false skips the run store.
func newApp(cfg *config.RunConfig, withStore bool) (*app, error) {
	fs := fsutil.OSFileSystem{}
	clock := timeutil.RealClock{}
	a := &app{cfg: cfg, rc: config.NewRunContext(cfg, clock.Now()), fs: fs}

	if err := fs.MkdirAll(cfg.GetWorkDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	// The picks directory is wiped before every evaluation.
	if err := security.ValidatePathWithinDirectory(cfg.GetPicksDir(), cfg.GetWorkDir()); err != nil {
		return nil, fmt.Errorf("picks_dir: %w", err)
	}

	source, err := picks.OpenSQLSource(cfg.GetDBDriver(), cfg.GetDBDSN())
	if err != nil {
		return nil, err
	}
	a.source = source

	var runs *store.RunStore
	if withStore {
		db, err := store.Open(cfg.GetStorePath())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.db = db
		runs = store.NewRunStore(db, clock.Now)
	}

	sp := picker.NewScautopick(cfg.GetPickerBinary(), cfg.GetInventory(), fs)
	sp.Timeout = cfg.GetPickerTimeout()

	a.tuner = tuner.New(a.rc, tuner.OptionsFromConfig(cfg), tuner.Deps{
		Source:  source,
		Archive: newArchive(cfg),
		Picker:  sp,
		FS:      fs,
		Store:   runs,
		Metrics: monitoring.NewMetrics(),
		Clock:   clock,
	})
	return a, nil
}

// Close releases the database handles.
func (a *app) Close() {
	if a.source != nil {
		if err := a.source.Close(); err != nil {
			monitoring.Logf("[picktune] close pick database: %v", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			monitoring.Logf("[picktune] close run store: %v", err)
		}
	}
}
