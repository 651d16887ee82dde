package memory

import (
	"context"
	"sync"

	"github.com/tiergate/tiergate/internal/domain"
	"github.com/tiergate/tiergate/internal/domain/run"
)

// RunStore is a concurrent in-memory run registry.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]run.Run
}

// NewRunStore creates an empty in-memory run registry.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]run.Run)}
}

// Put inserts or replaces a run.
func (s *RunStore) Put(_ context.Context, r *run.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = cloneRun(r)
	return nil
}

// Get returns the run by id, or domain.ErrNotFound.
func (s *RunStore) Get(_ context.Context, id string) (*run.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneRun(&r)
	return &out, nil
}

// ListByTenant returns all runs owned by the tenant.
func (s *RunStore) ListByTenant(_ context.Context, tenantID string) ([]run.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []run.Run
	for _, r := range s.runs {
		if r.TenantID == tenantID {
			out = append(out, cloneRun(&r))
		}
	}
	return out, nil
}

// cloneRun copies the run including its artifact map so callers cannot
// mutate stored state in place.
func cloneRun(r *run.Run) run.Run {
	out := *r
	if r.Artifacts != nil {
		out.Artifacts = make(map[string]string, len(r.Artifacts))
		for k, v := range r.Artifacts {
			out.Artifacts[k] = v
		}
	}
	return out
}
