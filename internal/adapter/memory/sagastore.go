package memory

import (
	"context"
	"sync"

	"github.com/tiergate/tiergate/internal/domain"
	"github.com/tiergate/tiergate/internal/domain/saga"
)

// SagaStore is a concurrent in-memory saga registry.
type SagaStore struct {
	mu    sync.RWMutex
	sagas map[string]saga.Saga
}

// NewSagaStore creates an empty in-memory saga registry.
func NewSagaStore() *SagaStore {
	return &SagaStore{sagas: make(map[string]saga.Saga)}
}

// Put inserts or replaces a saga.
func (s *SagaStore) Put(_ context.Context, sg *saga.Saga) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sagas[sg.ID] = cloneSaga(sg)
	return nil
}

// Get returns the saga by id, or domain.ErrNotFound.
func (s *SagaStore) Get(_ context.Context, id string) (*saga.Saga, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sg, ok := s.sagas[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneSaga(&sg)
	return &out, nil
}

// ListByRun returns all sagas issued by the given run.
func (s *SagaStore) ListByRun(_ context.Context, runID string) ([]saga.Saga, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []saga.Saga
	for _, sg := range s.sagas {
		if sg.RunID == runID {
			out = append(out, cloneSaga(&sg))
		}
	}
	return out, nil
}

func cloneSaga(sg *saga.Saga) saga.Saga {
	out := *sg
	out.Ops = append([]saga.Operation(nil), sg.Ops...)
	out.Completed = append([]saga.CompletedOperation(nil), sg.Completed...)
	return out
}
