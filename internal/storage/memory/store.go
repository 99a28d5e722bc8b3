package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tjfontaine/cassette-replay/internal/storage"
)

// Store is an in-memory RunStore
type Store struct {
	mu    sync.RWMutex
	runs  map[string]*storage.Run
	order []string
}

var _ storage.RunStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		runs: make(map[string]*storage.Run),
	}
}

func (s *Store) CreateRun(ctx context.Context, run *storage.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	stored := *run
	s.runs[run.ID] = &stored
	s.order = append(s.order, run.ID)
	return nil
}

func (s *Store) FinishRun(ctx context.Context, run *storage.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; !exists {
		return fmt.Errorf("run %s: %w", run.ID, storage.ErrNotFound)
	}
	stored := *run
	s.runs[run.ID] = &stored
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*storage.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	out := *run
	return &out, nil
}

func (s *Store) ListRuns(ctx context.Context, opts storage.ListOptions) ([]*storage.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.Run
	for i := len(s.order) - 1; i >= 0; i-- {
		run := s.runs[s.order[i]]
		if opts.Fixture != "" && run.Fixture != opts.Fixture {
			continue
		}
		if opts.Status != "" && run.Status != opts.Status {
			continue
		}
		out := *run
		result = append(result, &out)
	}

	// Simple pagination
	start := opts.Offset
	if start >= len(result) {
		return []*storage.Run{}, nil
	}

	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) Close() error {
	return nil
}
