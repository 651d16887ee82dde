// Package sagastore defines the port interface for the saga registry.
package sagastore

import (
	"context"

	"github.com/tiergate/tiergate/internal/domain/saga"
)

// Store is the port interface for saga persistence. Implementations must be
// safe for concurrent use.
type Store interface {
	// Put inserts or replaces a saga.
	Put(ctx context.Context, s *saga.Saga) error

	// Get returns the saga by id, or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*saga.Saga, error)

	// ListByRun returns all sagas issued by the given run.
	ListByRun(ctx context.Context, runID string) ([]saga.Saga, error)
}
