package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/picktune/internal/picks"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const minimalJSON = `{
  "stations": ["CM.BAR2", "CM.URMC.00.HH"],
  "start": "2023-01-01",
  "end": "2023-06-30 23:59:59",
  "fdsn_primary": "http://fdsn.example:8091",
  "db_dsn": "sysop:sysop@tcp(db:3306)/seiscomp3"
}`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalJSON), "")
	require.NoError(t, err)

	assert.Equal(t, 1.2, cfg.GetMinMag())
	assert.Equal(t, 4.0, cfg.GetMaxMag())
	assert.Equal(t, 222.0, cfg.GetRadiusKm())
	assert.Equal(t, 50, cfg.GetMaxPicks())
	assert.Equal(t, 5, cfg.GetMinPicks())
	assert.Equal(t, 100, cfg.GetNTrials())
	assert.Equal(t, 180*time.Second, cfg.GetWindowHalfWidth())
	assert.Equal(t, 250*time.Millisecond, cfg.GetMatchTolerance())
	assert.Equal(t, time.Duration(0), cfg.GetPickerTimeout())
	assert.Equal(t, "f1", cfg.GetMetric())
	assert.False(t, cfg.GetNoiseWindows())
	assert.False(t, cfg.GetDebug())
	assert.Equal(t, "scautopick", cfg.GetPickerBinary())
	assert.Equal(t, "mysql", cfg.GetDBDriver())
	assert.Equal(t, filepath.Join(".", "mseed_data"), cfg.GetCacheDir())
	assert.Equal(t, filepath.Join(".", "picks"), cfg.GetPicksDir())
	assert.Equal(t, filepath.Join(".", "picktune.db"), cfg.GetStorePath())
	assert.Equal(t, StrategyGrid, cfg.GetSearchStrategy())
	assert.Equal(t, 3, cfg.GetSearchMaxRounds())
	assert.Equal(t, 5, cfg.GetSearchValuesPerParam())
	assert.Equal(t, 5, cfg.GetSearchTopK())
	assert.Equal(t, []picks.Phase{picks.PhaseP, picks.PhaseS}, cfg.GetPhases())

	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), cfg.GetStart())
	assert.Equal(t, time.Date(2023, 6, 30, 23, 59, 59, 0, time.UTC), cfg.GetEnd())

	refs, err := cfg.GetStations()
	require.NoError(t, err)
	assert.Equal(t, []picks.StationRef{
		{Network: "CM", Code: "BAR2", Channel: "HH"},
		{Network: "CM", Code: "URMC", Location: "00", Channel: "HH"},
	}, refs)
}

func TestLoad_Overrides(t *testing.T) {
	body := `{
  "stations": ["CM.BAR2"],
  "phases": ["S"],
  "start": "2023-01-01T00:00:00Z",
  "end": "2023-02-01T00:00:00Z",
  "min_mag": 2.5,
  "n_trials": 20,
  "window_half_width": "60s",
  "metric": "f0.5",
  "noise_windows": true,
  "work_dir": "/data/run",
  "fdsn_primary": "http://fdsn.example:8091",
  "db_driver": "pgx",
  "db_dsn": "postgres://localhost/seiscomp",
  "search": {"strategy": "random", "seed": 9}
}`
	cfg, err := Load(writeConfig(t, body), "")
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.GetMinMag())
	assert.Equal(t, 20, cfg.GetNTrials())
	assert.Equal(t, time.Minute, cfg.GetWindowHalfWidth())
	assert.Equal(t, "f0.5", cfg.GetMetric())
	assert.True(t, cfg.GetNoiseWindows())
	assert.Equal(t, "/data/run/mseed_data", cfg.GetCacheDir())
	assert.Equal(t, "pgx", cfg.GetDBDriver())
	assert.Equal(t, StrategyRandom, cfg.GetSearchStrategy())
	assert.Equal(t, int64(9), cfg.GetSearchSeed())
	assert.Equal(t, []picks.Phase{picks.PhaseS}, cfg.GetPhases())
}

func TestLoad_EnvFileOverridesSecrets(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PICKTUNE_DB_DSN=sysop:secret@tcp(db:3306)/seiscomp\n"), 0600))
	t.Setenv(EnvFDSNSecondary, "http://backup.example:8080")
	// godotenv does not override variables that are already set.
	t.Setenv(EnvDBDSN, "")
	os.Unsetenv(EnvDBDSN)

	cfg, err := Load(writeConfig(t, minimalJSON), envFile)
	require.NoError(t, err)
	assert.Equal(t, "sysop:secret@tcp(db:3306)/seiscomp", cfg.GetDBDSN())
	assert.Equal(t, "http://backup.example:8080", cfg.GetFDSNSecondary())
}

func TestApplyEnv(t *testing.T) {
	cfg := &RunConfig{DBDSN: ptrString("from-json")}
	env := map[string]string{EnvDBDSN: "from-env", EnvFDSNPrimary: "http://fdsn"}
	cfg.ApplyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "from-env", cfg.GetDBDSN())
	assert.Equal(t, "http://fdsn", cfg.GetFDSNPrimary())
	assert.Equal(t, "mysql", cfg.GetDBDriver())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"no stations", `{"stations": [], "start": "2023-01-01", "end": "2023-02-01", "fdsn_primary": "http://x", "db_dsn": "d"}`},
		{"bad station", `{"stations": ["BAR2"], "start": "2023-01-01", "end": "2023-02-01", "fdsn_primary": "http://x", "db_dsn": "d"}`},
		{"missing start", `{"stations": ["CM.BAR2"], "end": "2023-02-01", "fdsn_primary": "http://x", "db_dsn": "d"}`},
		{"end before start", `{"stations": ["CM.BAR2"], "start": "2023-02-01", "end": "2023-01-01", "fdsn_primary": "http://x", "db_dsn": "d"}`},
		{"bad phase", `{"stations": ["CM.BAR2"], "phases": ["X"], "start": "2023-01-01", "end": "2023-02-01", "fdsn_primary": "http://x", "db_dsn": "d"}`},
		{"bad duration", `{"stations": ["CM.BAR2"], "start": "2023-01-01", "end": "2023-02-01", "window_half_width": "3 min", "fdsn_primary": "http://x", "db_dsn": "d"}`},
		{"bad metric", `{"stations": ["CM.BAR2"], "start": "2023-01-01", "end": "2023-02-01", "metric": "accuracy", "fdsn_primary": "http://x", "db_dsn": "d"}`},
		{"mag order", `{"stations": ["CM.BAR2"], "start": "2023-01-01", "end": "2023-02-01", "min_mag": 5, "fdsn_primary": "http://x", "db_dsn": "d"}`},
		{"bad driver", `{"stations": ["CM.BAR2"], "start": "2023-01-01", "end": "2023-02-01", "db_driver": "oracle", "fdsn_primary": "http://x", "db_dsn": "d"}`},
		{"bad strategy", `{"stations": ["CM.BAR2"], "start": "2023-01-01", "end": "2023-02-01", "search": {"strategy": "tpe"}, "fdsn_primary": "http://x", "db_dsn": "d"}`},
		{"no archive", `{"stations": ["CM.BAR2"], "start": "2023-01-01", "end": "2023-02-01", "db_dsn": "d"}`},
		{"no database", `{"stations": ["CM.BAR2"], "start": "2023-01-01", "end": "2023-02-01", "fdsn_primary": "http://x"}`},
	}
	t.Setenv(EnvDBDSN, "")
	t.Setenv(EnvFDSNPrimary, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body), "")
			assert.Error(t, err)
		})
	}
}

func TestLoad_RejectsPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "run.yaml"), "")
	assert.ErrorContains(t, err, ".json")

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"), "")
	assert.Error(t, err)

	big := filepath.Join(t.TempDir(), "big.json")
	require.NoError(t, os.WriteFile(big, make([]byte, maxFileSize+1), 0644))
	_, err = Load(big, "")
	assert.ErrorContains(t, err, "too large")
}

func TestRunContext(t *testing.T) {
	cfg := &RunConfig{WorkDir: ptrString("/work"), Debug: func() *bool { b := true; return &b }()}
	rc := NewRunContext(cfg, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.Len(t, rc.RunID(), 36)
	assert.True(t, rc.Debug())
	assert.Equal(t, "/work/mseed_data", rc.CacheDir())
	assert.Equal(t, "/work/picks", rc.PicksDir())
	assert.Equal(t, "/work/results_P.csv", rc.ResultsPath(picks.PhaseP))
	assert.Equal(t, "/work/replay_picks", rc.ReplayDir(picks.PhaseP))

	_, ok := rc.Station()
	assert.False(t, ok)

	scoped := rc.WithStation(picks.Station{Network: "CM", Code: "BAR2"})
	assert.Equal(t, "/work/replay_picks/CM_BAR2/S", scoped.ReplayDir(picks.PhaseS))
	st, ok := scoped.Station()
	require.True(t, ok)
	assert.Equal(t, "BAR2", st.Code)

	_, ok = rc.Station()
	assert.False(t, ok, "WithStation must not modify the receiver")
	assert.Equal(t, "fixed", rc.WithRunID("fixed").RunID())
	assert.NotEqual(t, "fixed", rc.RunID())
}
