// Package store persists runs, design tables, and metrics in SQLite so
// the fitting stage can run against a previously built design. Schema
// changes go through embedded migrations.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tagbase/stepselect/internal/steps"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the SQLite handle.
type Store struct {
	*sql.DB
}

// Open opens (creating if needed) the database at path and applies all
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	s := &Store{db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migration setup: %w", err)
	}
	// Note: we don't close m because that would close the underlying
	// DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// CreateRun records a new run with its configuration and returns the
// run id.
func (s *Store) CreateRun(config any) (string, error) {
	cfgJSON, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	runID := uuid.NewString()
	_, err = s.Exec(`INSERT INTO runs (run_id, config_json) VALUES (?, ?)`, runID, string(cfgJSON))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return runID, nil
}

// LatestRun returns the most recently created run id.
func (s *Store) LatestRun() (string, error) {
	var runID string
	err := s.QueryRow(`SELECT run_id FROM runs ORDER BY created_at DESC, rowid DESC LIMIT 1`).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no runs recorded")
	}
	if err != nil {
		return "", fmt.Errorf("query latest run: %w", err)
	}
	return runID, nil
}

// SaveDesign writes the full design table for a run in one
// transaction.
func (s *Store) SaveDesign(runID string, rows []steps.Row) error {
	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("begin design save: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO design_rows (
			run_id, stratum_id, individual_id, ts,
			x_end, y_end, heading_step,
			log_l, log_l2, cos_turn, is_used,
			nn_dist, n_forward, n_behind, ahead_any, behind_any,
			mean_align_fwd, rel_speed_fwd, sex_m, extra_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare design insert: %w", err)
	}
	defer stmt.Close()

	for i := range rows {
		r := &rows[i]
		var extra any
		if len(r.Extra) > 0 {
			b, err := json.Marshal(r.Extra)
			if err != nil {
				tx.Rollback()
				return fmt.Errorf("marshal extras: %w", err)
			}
			extra = string(b)
		}
		_, err := stmt.Exec(
			runID, r.StratumID, r.ID, r.Time.UTC().Format(time.RFC3339Nano),
			r.XEnd, r.YEnd, r.Heading,
			r.LogL, r.LogL2, r.CosTurn, r.IsUsed,
			r.NNDist, r.NForward, r.NBehind, r.AheadAny, r.BehindAny,
			r.MeanAlignFwd, r.RelSpeedFwd, r.SexM, extra,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert design row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit design save: %w", err)
	}
	return nil
}

// LoadDesign reads a run's design table back in insertion order.
func (s *Store) LoadDesign(runID string) ([]steps.Row, error) {
	res, err := s.Query(`
		SELECT stratum_id, individual_id, ts,
			x_end, y_end, heading_step,
			log_l, log_l2, cos_turn, is_used,
			nn_dist, n_forward, n_behind, ahead_any, behind_any,
			mean_align_fwd, rel_speed_fwd, sex_m, extra_json
		FROM design_rows WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query design rows: %w", err)
	}
	defer res.Close()

	var rows []steps.Row
	for res.Next() {
		var r steps.Row
		var ts string
		var extra sql.NullString
		err := res.Scan(
			&r.StratumID, &r.ID, &ts,
			&r.XEnd, &r.YEnd, &r.Heading,
			&r.LogL, &r.LogL2, &r.CosTurn, &r.IsUsed,
			&r.NNDist, &r.NForward, &r.NBehind, &r.AheadAny, &r.BehindAny,
			&r.MeanAlignFwd, &r.RelSpeedFwd, &r.SexM, &extra,
		)
		if err != nil {
			return nil, fmt.Errorf("scan design row: %w", err)
		}
		r.Time, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse design row time %q: %w", ts, err)
		}
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &r.Extra); err != nil {
				return nil, fmt.Errorf("parse design row extras: %w", err)
			}
		}
		rows = append(rows, r)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("iterate design rows: %w", err)
	}
	return rows, nil
}

// SaveMetrics upserts named metric values for a run.
func (s *Store) SaveMetrics(runID string, metrics map[string]float64) error {
	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("begin metrics save: %w", err)
	}
	for name, value := range metrics {
		_, err := tx.Exec(`
			INSERT INTO metrics (run_id, name, value) VALUES (?, ?, ?)
			ON CONFLICT(run_id, name) DO UPDATE SET value = excluded.value, recorded_at = CURRENT_TIMESTAMP`,
			runID, name, value)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("save metric %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit metrics save: %w", err)
	}
	return nil
}

// LoadMetrics returns a run's metrics by name.
func (s *Store) LoadMetrics(runID string) (map[string]float64, error) {
	res, err := s.Query(`SELECT name, value FROM metrics WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer res.Close()

	out := make(map[string]float64)
	for res.Next() {
		var name string
		var value float64
		if err := res.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		out[name] = value
	}
	return out, res.Err()
}
