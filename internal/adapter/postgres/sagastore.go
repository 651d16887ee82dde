package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tiergate/tiergate/internal/domain"
	"github.com/tiergate/tiergate/internal/domain/saga"
)

// SagaStore implements sagastore.Store using PostgreSQL. The operation and
// completed-operation lists are kept as JSONB documents.
type SagaStore struct {
	pool *pgxpool.Pool
}

// NewSagaStore creates a new SagaStore backed by the given connection pool.
func NewSagaStore(pool *pgxpool.Pool) *SagaStore {
	return &SagaStore{pool: pool}
}

const sagaColumns = `id, run_id, status, operations, completed, error, created_at, updated_at`

// Put inserts or replaces a saga.
func (s *SagaStore) Put(ctx context.Context, sg *saga.Saga) error {
	ops, err := json.Marshal(sg.Ops)
	if err != nil {
		return fmt.Errorf("marshal operations: %w", err)
	}
	var completed []byte
	if sg.Completed != nil {
		completed, err = json.Marshal(sg.Completed)
		if err != nil {
			return fmt.Errorf("marshal completed operations: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sagas (id, run_id, status, operations, completed, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		     status = EXCLUDED.status,
		     completed = EXCLUDED.completed,
		     error = EXCLUDED.error,
		     updated_at = EXCLUDED.updated_at`,
		sg.ID, sg.RunID, string(sg.Status), ops, completed, sg.Error, sg.CreatedAt, sg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put saga %s: %w", sg.ID, err)
	}
	return nil
}

// Get returns the saga by id, or domain.ErrNotFound.
func (s *SagaStore) Get(ctx context.Context, id string) (*saga.Saga, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM sagas WHERE id = $1`, sagaColumns), id)

	sg, err := scanSaga(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get saga %s: %w", id, err)
	}
	return sg, nil
}

// ListByRun returns all sagas issued by the given run, oldest first.
func (s *SagaStore) ListByRun(ctx context.Context, runID string) ([]saga.Saga, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM sagas WHERE run_id = $1 ORDER BY created_at ASC`, sagaColumns), runID)
	if err != nil {
		return nil, fmt.Errorf("list sagas for run %s: %w", runID, err)
	}
	defer rows.Close()

	var sagas []saga.Saga
	for rows.Next() {
		sg, err := scanSaga(rows)
		if err != nil {
			return nil, fmt.Errorf("scan saga: %w", err)
		}
		sagas = append(sagas, *sg)
	}
	return sagas, rows.Err()
}

func scanSaga(scanner interface{ Scan(dest ...any) error }) (*saga.Saga, error) {
	var (
		sg        saga.Saga
		ops       []byte
		completed []byte
	)
	if err := scanner.Scan(&sg.ID, &sg.RunID, &sg.Status, &ops, &completed,
		&sg.Error, &sg.CreatedAt, &sg.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(ops, &sg.Ops); err != nil {
		return nil, fmt.Errorf("unmarshal operations: %w", err)
	}
	if len(completed) > 0 {
		if err := json.Unmarshal(completed, &sg.Completed); err != nil {
			return nil, fmt.Errorf("unmarshal completed operations: %w", err)
		}
	}
	return &sg, nil
}
