// Package eventstore defines the port interface for the append-only event store.
package eventstore

import (
	"context"

	"github.com/tiergate/tiergate/internal/domain/event"
)

// Store is the port interface for appending and loading run events.
// Implementations must be safe for concurrent use, guarantee read-your-writes
// per run id, and never mutate or remove an appended event.
type Store interface {
	// Append persists a new event, assigning a fresh id, timestamp and the
	// next per-run version. The passed event is updated in place.
	Append(ctx context.Context, ev *event.RunEvent) error

	// LoadByRun returns all events for the given run in version order.
	LoadByRun(ctx context.Context, runID string) ([]event.RunEvent, error)

	// LoadByType returns the run's events of a single type, in version order.
	LoadByType(ctx context.Context, runID string, t event.Type) ([]event.RunEvent, error)

	// Latest returns the most recent event for the run, or domain.ErrNotFound.
	Latest(ctx context.Context, runID string) (*event.RunEvent, error)
}
