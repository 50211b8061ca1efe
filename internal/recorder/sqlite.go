package recorder

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite persists run history to a SQLite database file.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLite opens (or creates) the database and runs migrations.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so the ops API can read while a run is writing.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLite{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id         TEXT PRIMARY KEY,
			started_at     INTEGER NOT NULL,
			finished_at    INTEGER,
			status         TEXT NOT NULL,
			quality_result TEXT,
			failed_stage   TEXT,
			error          TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS stage_attempts (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL,
			stage      TEXT NOT NULL,
			attempt    INTEGER NOT NULL,
			status     TEXT NOT NULL,
			error      TEXT,
			at         INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_run ON stage_attempts(run_id)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLite) StartRun(runID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(
		`INSERT INTO runs (run_id, started_at, status) VALUES (?,?,?)`,
		runID, at.Unix(), StatusRunning,
	)
	return err
}

func (r *SQLite) FinishRun(rec RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(
		`UPDATE runs SET finished_at=?, status=?, quality_result=?, failed_stage=?, error=?
		 WHERE run_id=?`,
		rec.FinishedAt.Unix(), rec.Status, rec.QualityResult, rec.FailedStage, rec.Error,
		rec.RunID,
	)
	return err
}

func (r *SQLite) RecordAttempt(a AttemptRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(
		`INSERT INTO stage_attempts (run_id, stage, attempt, status, error, at)
		 VALUES (?,?,?,?,?,?)`,
		a.RunID, a.Stage, a.Attempt, a.Status, a.Error, a.At.Unix(),
	)
	return err
}

func (r *SQLite) RecentRuns(since time.Time) ([]RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(
		`SELECT run_id, started_at, COALESCE(finished_at, 0), status,
		        COALESCE(quality_result, ''), COALESCE(failed_stage, ''), COALESCE(error, '')
		 FROM runs
		 WHERE COALESCE(finished_at, started_at) >= ?
		 ORDER BY started_at DESC`,
		since.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (r *SQLite) ListRuns(limit int) ([]RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(
		`SELECT run_id, started_at, COALESCE(finished_at, 0), status,
		        COALESCE(quality_result, ''), COALESCE(failed_stage, ''), COALESCE(error, '')
		 FROM runs
		 ORDER BY started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (r *SQLite) Attempts(runID string) ([]AttemptRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(
		`SELECT run_id, stage, attempt, status, COALESCE(error, ''), at
		 FROM stage_attempts
		 WHERE run_id = ?
		 ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttemptRecord
	for rows.Next() {
		var a AttemptRecord
		var at int64
		if err := rows.Scan(&a.RunID, &a.Stage, &a.Attempt, &a.Status, &a.Error, &at); err != nil {
			return nil, err
		}
		a.At = time.Unix(at, 0)
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanRuns(rows *sql.Rows) ([]RunRecord, error) {
	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var started, finished int64
		if err := rows.Scan(&rec.RunID, &started, &finished, &rec.Status,
			&rec.QualityResult, &rec.FailedStage, &rec.Error); err != nil {
			return nil, err
		}
		rec.StartedAt = time.Unix(started, 0)
		if finished > 0 {
			rec.FinishedAt = time.Unix(finished, 0)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLite) Close() error {
	return r.db.Close()
}
