package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/draftforge-labs/resumepipeline/pipecore/logging"
	"github.com/draftforge-labs/resumepipeline/pipecore/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	plan        TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	error       TEXT,
	warnings    TEXT,
	snapshot    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// SQLite archives runs in a single-file SQLite database.
type SQLite struct {
	db     *sql.DB
	logger logging.Logger
}

// OpenSQLite opens or creates the archive database at path and runs
// migrations. The caller owns Close.
func OpenSQLite(path string, logger logging.Logger) (*SQLite, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive migrate: %w", err)
	}
	return &SQLite{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (a *SQLite) Close() error {
	return a.db.Close()
}

// SaveRun inserts a finished run. Run ids are write-once; archiving the
// same id twice is an error.
func (a *SQLite) SaveRun(ctx context.Context, rec *Record) error {
	if rec == nil || rec.RunID == "" {
		return fmt.Errorf("archive record needs a run id")
	}

	snapJSON, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot for run %s: %w", rec.RunID, err)
	}

	var warnings any
	if len(rec.Warnings) > 0 {
		b, err := json.Marshal(rec.Warnings)
		if err != nil {
			return fmt.Errorf("marshal warnings for run %s: %w", rec.RunID, err)
		}
		warnings = string(b)
	}

	var errMsg any
	if rec.Error != "" {
		errMsg = rec.Error
	}

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, plan, status, started_at, finished_at, duration_ms, error, warnings, snapshot)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Plan, rec.Status,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
		rec.DurationMS, errMsg, warnings, string(snapJSON),
	)
	if err != nil {
		return fmt.Errorf("archive run %s: %w", rec.RunID, err)
	}

	a.logger.Debug("run_archived",
		"run_id", rec.RunID, "status", rec.Status, "snapshot_bytes", len(snapJSON))
	return nil
}

// LoadRun reads one archived run with its full snapshot.
func (a *SQLite) LoadRun(ctx context.Context, runID string) (*Record, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT run_id, plan, status, started_at, finished_at, duration_ms, error, warnings, snapshot
		 FROM runs WHERE run_id = ?`, runID)

	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewRunNotFoundError(runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	return rec, nil
}

// ListRuns returns summaries of the most recent runs, newest first. A
// non-positive limit means 50.
func (a *SQLite) ListRuns(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT run_id, plan, status, started_at, duration_ms, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var s Summary
		var startedStr string
		var errMsg sql.NullString
		if err := rows.Scan(&s.RunID, &s.Plan, &s.Status, &startedStr, &s.DurationMS, &errMsg); err != nil {
			return nil, fmt.Errorf("scan run summary: %w", err)
		}
		s.StartedAt, _ = time.Parse(time.RFC3339Nano, startedStr)
		if errMsg.Valid {
			s.Error = errMsg.String
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func scanRecord(scan func(dest ...any) error) (*Record, error) {
	var rec Record
	var startedStr, finishedStr, snapJSON string
	var errMsg, warnJSON sql.NullString

	if err := scan(&rec.RunID, &rec.Plan, &rec.Status, &startedStr, &finishedStr,
		&rec.DurationMS, &errMsg, &warnJSON, &snapJSON); err != nil {
		return nil, err
	}

	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedStr)
	rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedStr)
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	if warnJSON.Valid && warnJSON.String != "" {
		if err := json.Unmarshal([]byte(warnJSON.String), &rec.Warnings); err != nil {
			return nil, fmt.Errorf("unmarshal warnings: %w", err)
		}
	}
	if snapJSON != "" && snapJSON != "null" {
		var snap store.Snapshot
		if err := json.Unmarshal([]byte(snapJSON), &snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		rec.Snapshot = &snap
	}

	return &rec, nil
}

var _ Archiver = (*SQLite)(nil)
