package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/stwalsh4118/churn/internal/database"
)

// PostgresStore keeps blobs in the model_artifacts table. A single-row upsert
// is atomic, so readers never observe a partial artifact.
type PostgresStore struct {
	db *database.Database
}

var _ BlobStore = (*PostgresStore)(nil)

// NewPostgresStore creates a store on an open pool. The table is created by
// the database migrations.
func NewPostgresStore(db *database.Database) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Put(ctx context.Context, key string, data []byte) error {
	query := `
		INSERT INTO model_artifacts (key, data, size_bytes, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE
		SET data = EXCLUDED.data,
			size_bytes = EXCLUDED.size_bytes,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.Pool.Exec(ctx, query, key, data, len(data)); err != nil {
		return fmt.Errorf("failed to upsert artifact %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.Pool.QueryRow(ctx, `SELECT data FROM model_artifacts WHERE key = $1`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to query artifact %s: %w", key, err)
	}
	return data, nil
}

func (s *PostgresStore) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM model_artifacts WHERE key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check artifact %s: %w", key, err)
	}
	return exists, nil
}
