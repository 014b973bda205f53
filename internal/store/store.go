// Package store keeps the history of report runs.
package store

import (
	"context"
	"errors"

	"github.com/AngelCh415/adreports/internal/models"
)

var ErrNotFound = errors.New("run not found")

type RunStore interface {
	Create(ctx context.Context, run models.ReportRun) error
	Update(ctx context.Context, run models.ReportRun) error
	Get(ctx context.Context, id string) (models.ReportRun, error)
	// List returns up to limit runs, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]models.ReportRun, error)
	Close() error
}

// Open returns the SQLite store at path, or an in-memory store when path
// is empty.
func Open(path string) (RunStore, error) {
	if path == "" {
		return NewMemoryStore(), nil
	}
	return OpenSQLite(path)
}
