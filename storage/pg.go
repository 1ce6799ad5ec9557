package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists entity state in a single jsonb-valued table. The schema is
// created on demand so a fresh database works without a migration step.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wires a pgxpool-backed store and ensures the backing table exists.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool) (*PGStore, error) {
	const ddl = `
		CREATE TABLE IF NOT EXISTS entity_states (
			key        text PRIMARY KEY,
			state      jsonb NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)
	`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("storage: ensure entity_states: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Get fetches the state blob stored under key.
func (s *PGStore) Get(ctx context.Context, key string) ([]byte, error) {
	const query = `SELECT state FROM entity_states WHERE key = $1`

	var raw []byte
	err := s.pool.QueryRow(ctx, query, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	return raw, nil
}

// Put upserts the state blob under key.
func (s *PGStore) Put(ctx context.Context, key string, value []byte) error {
	const query = `
		INSERT INTO entity_states (key, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET state = EXCLUDED.state, updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	return nil
}

// ListKeys returns every key with the given prefix, ordered for stable sweeps.
func (s *PGStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	const query = `SELECT key FROM entity_states WHERE key LIKE $1 || '%' ORDER BY key`

	rows, err := s.pool.Query(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", prefix, err)
	}
	defer rows.Close()

	keys := make([]string, 0, 16)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("storage: scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate keys: %w", err)
	}
	return keys, nil
}
