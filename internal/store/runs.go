package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/picktune/internal/params"
	"github.com/banshee-data/picktune/internal/search"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// RunRecord is one persisted tuning run.
type RunRecord struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt *time.Time
	Config     json.RawMessage
	Status     string
}

// BestRecord is the best configuration found for a station and phase.
type BestRecord struct {
	RunID      string
	Station    string
	Phase      string
	Params     params.Configuration
	Score      float64
	RecordedAt time.Time
}

// SkippedRecord notes a station and phase that could not be tuned.
type SkippedRecord struct {
	Station string
	Phase   string
	Reason  string
}

// RunStore reads and writes tuning runs.
type RunStore struct {
	db  *DB
	now func() time.Time
}

// NewRunStore returns a RunStore on db. now defaults to time.Now.
func NewRunStore(db *DB, now func() time.Time) *RunStore {
	if now == nil {
		now = time.Now
	}
	return &RunStore{db: db, now: now}
}

// StartRun inserts a running run and returns its id.
func (s *RunStore) StartRun(ctx context.Context, config json.RawMessage) (string, error) {
	id := uuid.NewString()
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}
	err := retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO tune_runs (run_id, started_at, config_json, status) VALUES (?, ?, ?, ?)`,
			id, formatTime(s.now()), string(config), StatusRunning)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("inserting run %s: %w", id, err)
	}
	return id, nil
}

// FinishRun marks a run complete or failed.
func (s *RunStore) FinishRun(ctx context.Context, runID, status string) error {
	var res sql.Result
	err := retryOnBusy(func() error {
		var err error
		res, err = s.db.ExecContext(ctx,
			`UPDATE tune_runs SET finished_at = ?, status = ? WHERE run_id = ?`,
			formatTime(s.now()), status, runID)
		return err
	})
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// GetRun returns one run.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var rec RunRecord
	var started string
	var finished sql.NullString
	var config string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, started_at, finished_at, config_json, status FROM tune_runs WHERE run_id = ?`,
		runID).Scan(&rec.RunID, &started, &finished, &config, &rec.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	rec.Config = json.RawMessage(config)
	if rec.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if finished.Valid {
		t, err := time.Parse(time.RFC3339Nano, finished.String)
		if err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		rec.FinishedAt = &t
	}
	return &rec, nil
}

// RecordTrials stores the trials of one station and phase in a single
// transaction.
func (s *RunStore) RecordTrials(ctx context.Context, runID, station, phase string, trials []search.Trial) error {
	return retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO tune_trials
			(trial_id, run_id, station, phase, trial_number, params_json, score, rejected)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, t := range trials {
			data, err := json.Marshal(t.Config)
			if err != nil {
				return fmt.Errorf("encoding trial %d: %w", t.Number, err)
			}
			reason := ""
			if t.Err != nil {
				reason = t.Err.Error()
			}
			if _, err := stmt.ExecContext(ctx, uuid.NewString(), runID, station, phase,
				t.Number, string(data), t.Score, nullStr(reason)); err != nil {
				return fmt.Errorf("inserting trial %d: %w", t.Number, err)
			}
		}
		return tx.Commit()
	})
}

// Trials returns the stored trials of a station and phase in trial order.
// Parameter values decode as float64.
func (s *RunStore) Trials(ctx context.Context, runID, station, phase string) ([]search.Trial, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT trial_number, params_json, score, rejected
		FROM tune_trials WHERE run_id = ? AND station = ? AND phase = ?
		ORDER BY trial_number`, runID, station, phase)
	if err != nil {
		return nil, fmt.Errorf("querying trials: %w", err)
	}
	defer rows.Close()
	var out []search.Trial
	for rows.Next() {
		var t search.Trial
		var data string
		var rejected sql.NullString
		if err := rows.Scan(&t.Number, &data, &t.Score, &rejected); err != nil {
			return nil, fmt.Errorf("scanning trial: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &t.Config); err != nil {
			return nil, fmt.Errorf("decoding trial %d: %w", t.Number, err)
		}
		if rejected.Valid {
			t.Err = errors.New(rejected.String)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordBest stores or replaces the best configuration of a station and
// phase for a run.
func (s *RunStore) RecordBest(ctx context.Context, runID, station, phase string, cfg params.Configuration, score float64) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding best params: %w", err)
	}
	err = retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO tune_best
			(run_id, station, phase, params_json, score, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, station, phase, string(data), score, formatTime(s.now()))
		return err
	})
	if err != nil {
		return fmt.Errorf("recording best for %s %s: %w", station, phase, err)
	}
	return nil
}

// LatestBest returns the most recently recorded best configuration of a
// station and phase across all runs.
func (s *RunStore) LatestBest(ctx context.Context, station, phase string) (*BestRecord, error) {
	rec := BestRecord{Station: station, Phase: phase}
	var data, recorded string
	err := s.db.QueryRowContext(ctx, `SELECT run_id, params_json, score, recorded_at
		FROM tune_best WHERE station = ? AND phase = ?
		ORDER BY recorded_at DESC LIMIT 1`, station, phase).Scan(&rec.RunID, &data, &rec.Score, &recorded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("best for %s %s: %w", station, phase, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying best: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &rec.Params); err != nil {
		return nil, fmt.Errorf("decoding best params: %w", err)
	}
	if rec.RecordedAt, err = time.Parse(time.RFC3339Nano, recorded); err != nil {
		return nil, fmt.Errorf("parsing recorded_at: %w", err)
	}
	return &rec, nil
}

// RecordSkipped notes that a station and phase were not tuned.
func (s *RunStore) RecordSkipped(ctx context.Context, runID, station, phase, reason string) error {
	err := retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO tune_skipped
			(run_id, station, phase, reason, recorded_at) VALUES (?, ?, ?, ?, ?)`,
			runID, station, phase, reason, formatTime(s.now()))
		return err
	})
	if err != nil {
		return fmt.Errorf("recording skipped %s %s: %w", station, phase, err)
	}
	return nil
}

// Skipped returns the stations and phases of a run that were not tuned.
func (s *RunStore) Skipped(ctx context.Context, runID string) ([]SkippedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT station, phase, reason FROM tune_skipped
		WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying skipped: %w", err)
	}
	defer rows.Close()
	var out []SkippedRecord
	for rows.Next() {
		var r SkippedRecord
		if err := rows.Scan(&r.Station, &r.Phase, &r.Reason); err != nil {
			return nil, fmt.Errorf("scanning skipped: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
