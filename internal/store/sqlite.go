package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AngelCh415/adreports/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS report_runs (
	id TEXT PRIMARY KEY,
	report_name TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	error_message TEXT NOT NULL DEFAULT '',
	error_stage TEXT NOT NULL DEFAULT '',
	result_url TEXT NOT NULL DEFAULT '',
	row_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS report_runs_started ON report_runs (started_at);
`

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore persists runs in a SQLite file (":memory:" works for tests).
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	// one connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init run store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Create(ctx context.Context, run models.ReportRun) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO report_runs
		(id, report_name, status, started_at, completed_at, error_message, error_stage, result_url, row_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ReportName, string(run.Status), formatTime(run.StartedAt), formatTimePtr(run.CompletedAt),
		run.ErrorMessage, run.ErrorStage, run.ResultURL, run.RowCount)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, run models.ReportRun) error {
	res, err := s.db.ExecContext(ctx, `UPDATE report_runs SET
		report_name = ?, status = ?, started_at = ?, completed_at = ?,
		error_message = ?, error_stage = ?, result_url = ?, row_count = ?
		WHERE id = ?`,
		run.ReportName, string(run.Status), formatTime(run.StartedAt), formatTimePtr(run.CompletedAt),
		run.ErrorMessage, run.ErrorStage, run.ResultURL, run.RowCount, run.ID)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectRun = `SELECT id, report_name, status, started_at, completed_at,
	error_message, error_stage, result_url, row_count FROM report_runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (models.ReportRun, error) {
	var (
		run       models.ReportRun
		status    string
		started   string
		completed sql.NullString
	)
	if err := sc.Scan(&run.ID, &run.ReportName, &status, &started, &completed,
		&run.ErrorMessage, &run.ErrorStage, &run.ResultURL, &run.RowCount); err != nil {
		return models.ReportRun{}, err
	}
	run.Status = models.RunStatus(status)
	t, err := time.Parse(timeLayout, started)
	if err != nil {
		return models.ReportRun{}, fmt.Errorf("run %s: started_at: %w", run.ID, err)
	}
	run.StartedAt = t
	if completed.Valid && completed.String != "" {
		t, err := time.Parse(timeLayout, completed.String)
		if err != nil {
			return models.ReportRun{}, fmt.Errorf("run %s: completed_at: %w", run.ID, err)
		}
		run.CompletedAt = &t
	}
	return run, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (models.ReportRun, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.ReportRun{}, ErrNotFound
	}
	return run, err
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]models.ReportRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectRun+` ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.ReportRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
