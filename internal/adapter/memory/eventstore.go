// Package memory provides concurrent in-memory implementations of the store
// ports, used in tests and single-node dev mode. All stores guarantee
// read-your-writes per id; the event store is strictly append-only.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tiergate/tiergate/internal/domain"
	"github.com/tiergate/tiergate/internal/domain/event"
)

// EventStore is an append-only in-memory event log.
type EventStore struct {
	mu    sync.RWMutex
	byRun map[string][]event.RunEvent
	now   func() time.Time
}

// NewEventStore creates an empty in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		byRun: make(map[string][]event.RunEvent),
		now:   time.Now,
	}
}

// Append assigns a fresh id, timestamp and the next per-run version, then
// stores a copy of the event. Prior events are never mutated or removed.
func (s *EventStore) Append(_ context.Context, ev *event.RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = uuid.NewString()
	ev.CreatedAt = s.now().UTC()
	ev.Version = len(s.byRun[ev.RunID]) + 1

	s.byRun[ev.RunID] = append(s.byRun[ev.RunID], *ev)
	return nil
}

// LoadByRun returns all events for the run in version order.
func (s *EventStore) LoadByRun(_ context.Context, runID string) ([]event.RunEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.byRun[runID]
	out := make([]event.RunEvent, len(stored))
	copy(out, stored)
	return out, nil
}

// LoadByType returns the run's events of a single type, in version order.
func (s *EventStore) LoadByType(_ context.Context, runID string, t event.Type) ([]event.RunEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []event.RunEvent
	for _, ev := range s.byRun[runID] {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Latest returns the most recent event for the run.
func (s *EventStore) Latest(_ context.Context, runID string) (*event.RunEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.byRun[runID]
	if len(stored) == 0 {
		return nil, domain.ErrNotFound
	}
	latest := stored[len(stored)-1]
	return &latest, nil
}
