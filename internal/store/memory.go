package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/AngelCh415/adreports/internal/models"
)

type MemoryStore struct {
	mu    sync.RWMutex
	runs  map[string]models.ReportRun
	order []string // creation order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]models.ReportRun)}
}

func (s *MemoryStore) Create(_ context.Context, run models.ReportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, run models.ReportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return ErrNotFound
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (models.ReportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return models.ReportRun{}, ErrNotFound
	}
	return run, nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]models.ReportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ReportRun, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.runs[s.order[i]])
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
