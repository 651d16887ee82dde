package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tiergate/tiergate/internal/domain"
	"github.com/tiergate/tiergate/internal/domain/event"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts a new event into run_events, assigning id, timestamp and the
// next per-run version inside a single statement so concurrent appends to the
// same run never collide.
func (s *EventStore) Append(ctx context.Context, ev *event.RunEvent) error {
	ev.ID = uuid.NewString()

	row := s.pool.QueryRow(ctx,
		`INSERT INTO run_events (id, run_id, tenant_id, event_type, payload, version, created_at)
		 VALUES ($1, $2, $3, $4, $5,
		         (SELECT COALESCE(MAX(version), 0) + 1 FROM run_events WHERE run_id = $2),
		         now())
		 RETURNING version, created_at`,
		ev.ID, ev.RunID, ev.TenantID, string(ev.Type), ev.Payload)
	if err := row.Scan(&ev.Version, &ev.CreatedAt); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// eventColumns is the SELECT column list for run_events queries.
const eventColumns = `id, run_id, tenant_id, event_type, payload, version, created_at`

func scanEvent(scanner interface{ Scan(dest ...any) error }, ev *event.RunEvent) error {
	return scanner.Scan(&ev.ID, &ev.RunID, &ev.TenantID, &ev.Type, &ev.Payload, &ev.Version, &ev.CreatedAt)
}

// LoadByRun returns all events for the given run, ordered by version ascending.
func (s *EventStore) LoadByRun(ctx context.Context, runID string) ([]event.RunEvent, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM run_events WHERE run_id = $1 ORDER BY version ASC`, eventColumns), runID)
	if err != nil {
		return nil, fmt.Errorf("load events by run %s: %w", runID, err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// LoadByType returns the run's events of a single type, ordered by version ascending.
func (s *EventStore) LoadByType(ctx context.Context, runID string, t event.Type) ([]event.RunEvent, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM run_events WHERE run_id = $1 AND event_type = $2 ORDER BY version ASC`, eventColumns),
		runID, string(t))
	if err != nil {
		return nil, fmt.Errorf("load events by type %s/%s: %w", runID, t, err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// Latest returns the most recent event for the run.
func (s *EventStore) Latest(ctx context.Context, runID string) (*event.RunEvent, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM run_events WHERE run_id = $1 ORDER BY version DESC LIMIT 1`, eventColumns), runID)

	var ev event.RunEvent
	if err := scanEvent(row, &ev); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("latest event for run %s: %w", runID, err)
	}
	return &ev, nil
}

func collectEvents(rows pgx.Rows) ([]event.RunEvent, error) {
	var events []event.RunEvent
	for rows.Next() {
		var ev event.RunEvent
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
