// Package store provides SQLite-based run history storage.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/pthm-cable/algaeseek/telemetry"
)

// ErrNotFound is returned when a run ID has no stored summary.
var ErrNotFound = errors.New("store: run not found")

// DB wraps a SQLite connection for run history.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT NOT NULL,
		boat INTEGER NOT NULL,
		technique TEXT NOT NULL,
		policy TEXT NOT NULL,
		start_x REAL NOT NULL,
		start_y REAL NOT NULL,
		final_x REAL NOT NULL,
		final_y REAL NOT NULL,
		final_theta REAL NOT NULL,
		state TEXT NOT NULL,
		ticks INTEGER NOT NULL,
		sim_time REAL NOT NULL,
		distance REAL NOT NULL,
		cycles INTEGER NOT NULL,
		transitions INTEGER NOT NULL,
		final_concentration REAL NOT NULL,
		min_concentration REAL NOT NULL,
		max_concentration REAL NOT NULL,
		peak_x REAL NOT NULL,
		peak_y REAL NOT NULL,
		peak_distance REAL NOT NULL,
		converged INTEGER NOT NULL,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, boat)
	);

	CREATE TABLE IF NOT EXISTS trajectory (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		boat INTEGER NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		theta REAL NOT NULL,
		state TEXT NOT NULL,
		concentration REAL NOT NULL,
		PRIMARY KEY (run_id, boat, tick)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// SaveRun writes the summaries and trajectory of one run in a single
// transaction, replacing anything stored under the same run ID.
func (db *DB) SaveRun(runID string, summaries []telemetry.RunSummary, points []telemetry.TrajectoryPoint) error {
	if _, err := uuid.Parse(runID); err != nil {
		return fmt.Errorf("run id %q: %w", runID, err)
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM runs WHERE run_id = ?", runID); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM trajectory WHERE run_id = ?", runID); err != nil {
		return err
	}

	for _, s := range summaries {
		s.RunID = runID
		if _, err := tx.NamedExec(`INSERT INTO runs
			(run_id, boat, technique, policy, start_x, start_y, final_x, final_y, final_theta,
			 state, ticks, sim_time, distance, cycles, transitions, final_concentration,
			 min_concentration, max_concentration, peak_x, peak_y, peak_distance, converged)
			VALUES (:run_id, :boat, :technique, :policy, :start_x, :start_y, :final_x, :final_y, :final_theta,
			 :state, :ticks, :sim_time, :distance, :cycles, :transitions, :final_concentration,
			 :min_concentration, :max_concentration, :peak_x, :peak_y, :peak_distance, :converged)`, s); err != nil {
			return fmt.Errorf("insert run boat %d: %w", s.Boat, err)
		}
	}

	stmt, err := tx.Preparex(`INSERT INTO trajectory
		(run_id, tick, boat, x, y, theta, state, concentration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.Exec(runID, p.Tick, p.Boat, p.X, p.Y, p.Theta, p.State, p.Concentration); err != nil {
			return fmt.Errorf("insert trajectory tick %d: %w", p.Tick, err)
		}
	}

	return tx.Commit()
}

const runColumns = `run_id, boat, technique, policy, start_x, start_y, final_x, final_y, final_theta,
	state, ticks, sim_time, distance, cycles, transitions, final_concentration,
	min_concentration, max_concentration, peak_x, peak_y, peak_distance, converged`

// Run returns the per-boat summaries of one run.
func (db *DB) Run(runID string) ([]telemetry.RunSummary, error) {
	var out []telemetry.RunSummary
	err := db.conn.Select(&out, "SELECT "+runColumns+" FROM runs WHERE run_id = ? ORDER BY boat", runID)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return out, nil
}

// RunInfo is one row of the run listing.
type RunInfo struct {
	RunID     string `db:"run_id"`
	Boats     int    `db:"boats"`
	Converged int    `db:"converged"`
	CreatedAt string `db:"created_at"`
}

// ListRuns returns every stored run, most recent first.
func (db *DB) ListRuns() ([]RunInfo, error) {
	var out []RunInfo
	err := db.conn.Select(&out, `SELECT run_id, COUNT(*) AS boats, SUM(converged) AS converged, MIN(created_at) AS created_at
		FROM runs GROUP BY run_id ORDER BY MIN(created_at) DESC, run_id`)
	return out, err
}

// Trajectory returns the stored poses of one run ordered by boat and tick.
func (db *DB) Trajectory(runID string) ([]telemetry.TrajectoryPoint, error) {
	var out []telemetry.TrajectoryPoint
	err := db.conn.Select(&out, `SELECT tick, boat, x, y, theta, state, concentration
		FROM trajectory WHERE run_id = ? ORDER BY boat, tick`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return out, err
}
