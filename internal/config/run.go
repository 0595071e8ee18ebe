// Package config loads the tuning run configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/banshee-data/picktune/internal/picks"
	"github.com/banshee-data/picktune/internal/score"
)

// Environment overrides. They win over the JSON file so secrets can live in
// a .env file next to it.
const (
	EnvDBDSN         = "PICKTUNE_DB_DSN"
	EnvDBDriver      = "PICKTUNE_DB_DRIVER"
	EnvFDSNPrimary   = "PICKTUNE_FDSN_PRIMARY"
	EnvFDSNSecondary = "PICKTUNE_FDSN_SECONDARY"
)

const maxFileSize = 1 * 1024 * 1024

// Search strategies.
const (
	StrategyGrid   = "grid"
	StrategyRandom = "random"
)

// SearchConfig configures the proposer.
type SearchConfig struct {
	Strategy       *string `json:"strategy,omitempty" validate:"omitempty,oneof=grid random"`
	MaxRounds      *int    `json:"max_rounds,omitempty" validate:"omitempty,min=1"`
	ValuesPerParam *int    `json:"values_per_param,omitempty" validate:"omitempty,min=2"`
	TopK           *int    `json:"top_k,omitempty" validate:"omitempty,min=1"`
	Seed           *int64  `json:"seed,omitempty"`
}

// RunConfig is the JSON run configuration. Omitted fields take the defaults
// returned by the Get* methods.
type RunConfig struct {
	Stations []string `json:"stations" validate:"required,min=1,dive,required"`
	Phases   []string `json:"phases,omitempty" validate:"omitempty,dive,oneof=P S"`
	Start    *string  `json:"start" validate:"required"`
	End      *string  `json:"end" validate:"required"`

	MinMag   *float64 `json:"min_mag,omitempty"`
	MaxMag   *float64 `json:"max_mag,omitempty"`
	RadiusKm *float64 `json:"radius_km,omitempty" validate:"omitempty,gt=0"`
	MaxPicks *int     `json:"max_picks,omitempty" validate:"omitempty,min=1"`
	MinPicks *int     `json:"min_picks,omitempty" validate:"omitempty,min=0"`
	NTrials  *int     `json:"n_trials,omitempty" validate:"omitempty,min=1"`

	WindowHalfWidth *string `json:"window_half_width,omitempty"` // duration string like "180s"
	MatchTolerance  *string `json:"match_tolerance,omitempty"`   // duration string like "250ms"
	Metric          *string `json:"metric,omitempty"`
	NoiseWindows    *bool   `json:"noise_windows,omitempty"`
	Debug           *bool   `json:"debug,omitempty"`
	Workers         *int    `json:"workers,omitempty" validate:"omitempty,min=1"`

	PickerBinary          *string `json:"picker_binary,omitempty"`
	PickerTimeout         *string `json:"picker_timeout,omitempty"`
	Inventory             *string `json:"inventory,omitempty"`
	WorkDir               *string `json:"work_dir,omitempty"`
	CacheDir              *string `json:"cache_dir,omitempty"`
	PicksDir              *string `json:"picks_dir,omitempty"`
	ReferencePickerConfig *string `json:"reference_picker_config,omitempty"`

	FDSNPrimary     *string `json:"fdsn_primary,omitempty" validate:"omitempty,url"`
	FDSNSecondary   *string `json:"fdsn_secondary,omitempty" validate:"omitempty,url"`
	DBDriver        *string `json:"db_driver,omitempty" validate:"omitempty,oneof=mysql pgx sqlite"`
	DBDSN           *string `json:"db_dsn,omitempty"`
	StorePath       *string `json:"store_path,omitempty"`
	MetricsTextfile *string `json:"metrics_textfile,omitempty"`

	Search *SearchConfig `json:"search,omitempty"`
}

func ptrString(v string) *string { return &v }

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a RunConfig from a JSON file, applies the environment overrides
// (loading envFile first when it is non-empty and exists) and validates it.
func Load(path, envFile string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &RunConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		}
	}
	cfg.ApplyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides the database and archive settings from getenv.
func (c *RunConfig) ApplyEnv(getenv func(string) string) {
	set := func(dst **string, key string) {
		if v := getenv(key); v != "" {
			*dst = ptrString(v)
		}
	}
	set(&c.DBDSN, EnvDBDSN)
	set(&c.DBDriver, EnvDBDriver)
	set(&c.FDSNPrimary, EnvFDSNPrimary)
	set(&c.FDSNSecondary, EnvFDSNSecondary)
}

// Validate checks the struct tags, then the values the tags cannot express.
func (c *RunConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	for _, s := range c.Stations {
		if _, err := picks.ParseStationRef(s); err != nil {
			return err
		}
	}
	start, err := ParseTime(*c.Start)
	if err != nil {
		return fmt.Errorf("invalid start: %w", err)
	}
	end, err := ParseTime(*c.End)
	if err != nil {
		return fmt.Errorf("invalid end: %w", err)
	}
	if !end.After(start) {
		return fmt.Errorf("end %s must be after start %s", *c.End, *c.Start)
	}
	if c.GetMinMag() > c.GetMaxMag() {
		return fmt.Errorf("min_mag %.2f exceeds max_mag %.2f", c.GetMinMag(), c.GetMaxMag())
	}
	for name, v := range map[string]*string{
		"window_half_width": c.WindowHalfWidth,
		"match_tolerance":   c.MatchTolerance,
		"picker_timeout":    c.PickerTimeout,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}
	if !score.ValidMetric(c.GetMetric()) {
		return fmt.Errorf("unknown metric %q", c.GetMetric())
	}
	if c.GetFDSNPrimary() == "" {
		return fmt.Errorf("fdsn_primary is required (or set %s)", EnvFDSNPrimary)
	}
	if c.GetDBDSN() == "" {
		return fmt.Errorf("db_dsn is required (or set %s)", EnvDBDSN)
	}
	return nil
}

// ParseTime accepts RFC 3339, "2006-01-02 15:04:05" and "2006-01-02", all
// in UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func getString(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

// GetStations parses the station list.
func (c *RunConfig) GetStations() ([]picks.StationRef, error) {
	out := make([]picks.StationRef, 0, len(c.Stations))
	for _, s := range c.Stations {
		ref, err := picks.ParseStationRef(s)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}

// GetPhases returns the phases to tune, P before S. Both by default.
func (c *RunConfig) GetPhases() []picks.Phase {
	var p, s bool
	for _, ph := range c.Phases {
		switch strings.ToUpper(ph) {
		case "P":
			p = true
		case "S":
			s = true
		}
	}
	if !p && !s {
		p, s = true, true
	}
	var out []picks.Phase
	if p {
		out = append(out, picks.PhaseP)
	}
	if s {
		out = append(out, picks.PhaseS)
	}
	return out
}

// GetStart returns the start of the origin time window.
func (c *RunConfig) GetStart() time.Time {
	t, _ := ParseTime(getString(c.Start, ""))
	return t
}

// GetEnd returns the end of the origin time window.
func (c *RunConfig) GetEnd() time.Time {
	t, _ := ParseTime(getString(c.End, ""))
	return t
}

// GetMinMag returns min_mag or 1.2.
func (c *RunConfig) GetMinMag() float64 {
	if c.MinMag == nil {
		return 1.2
	}
	return *c.MinMag
}

// GetMaxMag returns max_mag or 4.0.
func (c *RunConfig) GetMaxMag() float64 {
	if c.MaxMag == nil {
		return 4.0
	}
	return *c.MaxMag
}

// GetRadiusKm returns radius_km or 222.
func (c *RunConfig) GetRadiusKm() float64 {
	if c.RadiusKm == nil {
		return 222
	}
	return *c.RadiusKm
}

// GetMaxPicks returns max_picks or 50.
func (c *RunConfig) GetMaxPicks() int {
	if c.MaxPicks == nil {
		return 50
	}
	return *c.MaxPicks
}

// GetMinPicks returns min_picks or 5.
func (c *RunConfig) GetMinPicks() int {
	if c.MinPicks == nil {
		return 5
	}
	return *c.MinPicks
}

// GetNTrials returns n_trials or 100.
func (c *RunConfig) GetNTrials() int {
	if c.NTrials == nil {
		return 100
	}
	return *c.NTrials
}

// GetWindowHalfWidth returns window_half_width or 180s.
func (c *RunConfig) GetWindowHalfWidth() time.Duration {
	return getDuration(c.WindowHalfWidth, 180*time.Second)
}

// GetMatchTolerance returns match_tolerance or score.DefaultTolerance.
func (c *RunConfig) GetMatchTolerance() time.Duration {
	return getDuration(c.MatchTolerance, score.DefaultTolerance)
}

// GetPickerTimeout returns picker_timeout; 0 means no timeout.
func (c *RunConfig) GetPickerTimeout() time.Duration {
	return getDuration(c.PickerTimeout, 0)
}

func (c *RunConfig) GetMetric() string { return getString(c.Metric, "f1") }

func (c *RunConfig) GetNoiseWindows() bool { return c.NoiseWindows != nil && *c.NoiseWindows }

func (c *RunConfig) GetDebug() bool { return c.Debug != nil && *c.Debug }

// GetWorkers returns workers, or 0 to let the engine decide.
func (c *RunConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

func (c *RunConfig) GetPickerBinary() string { return getString(c.PickerBinary, "scautopick") }

func (c *RunConfig) GetInventory() string { return getString(c.Inventory, "inventory.xml") }

func (c *RunConfig) GetWorkDir() string { return getString(c.WorkDir, ".") }

func (c *RunConfig) GetCacheDir() string {
	return getString(c.CacheDir, filepath.Join(c.GetWorkDir(), "mseed_data"))
}

func (c *RunConfig) GetPicksDir() string {
	return getString(c.PicksDir, filepath.Join(c.GetWorkDir(), "picks"))
}

func (c *RunConfig) GetReferencePickerConfig() string { return getString(c.ReferencePickerConfig, "") }

func (c *RunConfig) GetFDSNPrimary() string { return getString(c.FDSNPrimary, "") }

func (c *RunConfig) GetFDSNSecondary() string { return getString(c.FDSNSecondary, "") }

func (c *RunConfig) GetDBDriver() string { return getString(c.DBDriver, picks.DriverMySQL) }

func (c *RunConfig) GetDBDSN() string { return getString(c.DBDSN, "") }

func (c *RunConfig) GetStorePath() string {
	return getString(c.StorePath, filepath.Join(c.GetWorkDir(), "picktune.db"))
}

func (c *RunConfig) GetMetricsTextfile() string { return getString(c.MetricsTextfile, "") }

func (c *RunConfig) search() SearchConfig {
	if c.Search == nil {
		return SearchConfig{}
	}
	return *c.Search
}

// GetSearchStrategy returns search.strategy or grid.
func (c *RunConfig) GetSearchStrategy() string { return getString(c.search().Strategy, StrategyGrid) }

func (c *RunConfig) GetSearchMaxRounds() int {
	if v := c.search().MaxRounds; v != nil {
		return *v
	}
	return 3
}

func (c *RunConfig) GetSearchValuesPerParam() int {
	if v := c.search().ValuesPerParam; v != nil {
		return *v
	}
	return 5
}

func (c *RunConfig) GetSearchTopK() int {
	if v := c.search().TopK; v != nil {
		return *v
	}
	return 5
}

func (c *RunConfig) GetSearchSeed() int64 {
	if v := c.search().Seed; v != nil {
		return *v
	}
	return 1
}
