// Package runstore defines the port interface for the tenant-scoped run registry.
package runstore

import (
	"context"

	"github.com/tiergate/tiergate/internal/domain/run"
)

// Store is the port interface for the run registry. The registry is a live
// projection only; the event log remains the source of truth. Implementations
// must be safe for concurrent use and guarantee read-your-writes per run id.
type Store interface {
	// Put inserts or replaces a run.
	Put(ctx context.Context, r *run.Run) error

	// Get returns the run by id, or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*run.Run, error)

	// ListByTenant returns all runs owned by the tenant.
	ListByTenant(ctx context.Context, tenantID string) ([]run.Run, error)
}
