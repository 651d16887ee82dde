package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tiergate/tiergate/internal/domain"
	"github.com/tiergate/tiergate/internal/domain/run"
)

// RunStore implements runstore.Store using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a new RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

const runColumns = `id, tenant_id, workflow, status, tokens_used, cost_usd, artifacts, step_count, error, created_at, started_at, completed_at`

// Put inserts or replaces a run.
func (s *RunStore) Put(ctx context.Context, r *run.Run) error {
	artifacts, err := marshalArtifacts(r.Artifacts)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, tenant_id, workflow, status, tokens_used, cost_usd, artifacts, step_count, error, created_at, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		     status = EXCLUDED.status,
		     tokens_used = EXCLUDED.tokens_used,
		     cost_usd = EXCLUDED.cost_usd,
		     artifacts = EXCLUDED.artifacts,
		     step_count = EXCLUDED.step_count,
		     error = EXCLUDED.error,
		     started_at = EXCLUDED.started_at,
		     completed_at = EXCLUDED.completed_at`,
		r.ID, r.TenantID, r.Workflow, string(r.Status), r.TokensUsed, r.CostUSD,
		artifacts, r.StepCount, r.Error, r.CreatedAt, r.StartedAt, r.CompletedAt)
	if err != nil {
		return fmt.Errorf("put run %s: %w", r.ID, err)
	}
	return nil
}

// Get returns the run by id, or domain.ErrNotFound.
func (s *RunStore) Get(ctx context.Context, id string) (*run.Run, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM runs WHERE id = $1`, runColumns), id)

	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// ListByTenant returns all runs owned by the tenant, newest first.
func (s *RunStore) ListByTenant(ctx context.Context, tenantID string) ([]run.Run, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM runs WHERE tenant_id = $1 ORDER BY created_at DESC`, runColumns), tenantID)
	if err != nil {
		return nil, fmt.Errorf("list runs for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	var runs []run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*run.Run, error) {
	var (
		r         run.Run
		artifacts []byte
	)
	if err := scanner.Scan(&r.ID, &r.TenantID, &r.Workflow, &r.Status, &r.TokensUsed,
		&r.CostUSD, &artifacts, &r.StepCount, &r.Error, &r.CreatedAt, &r.StartedAt, &r.CompletedAt); err != nil {
		return nil, err
	}
	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &r.Artifacts); err != nil {
			return nil, fmt.Errorf("unmarshal artifacts: %w", err)
		}
	}
	return &r, nil
}

func marshalArtifacts(artifacts map[string]string) ([]byte, error) {
	if artifacts == nil {
		return nil, nil
	}
	data, err := json.Marshal(artifacts)
	if err != nil {
		return nil, fmt.Errorf("marshal artifacts: %w", err)
	}
	return data, nil
}
