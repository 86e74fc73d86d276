// Package blob stores uploaded blueprints and pipeline artifacts.
package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("blob not found")

// Store is a key/value store for opaque content.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

// PostgresStore keeps blobs in the blobs table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Put writes data under key, replacing any existing content.
func (s *PostgresStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO blobs (key, content_type, data, size)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET
		   content_type = EXCLUDED.content_type,
		   data = EXCLUDED.data,
		   size = EXCLUDED.size,
		   updated_at = NOW()`,
		key, contentType, data, len(data))
	if err != nil {
		return fmt.Errorf("put blob %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM blobs WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", key, err)
	}
	return data, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM blobs WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every blob whose key starts with prefix.
func (s *PostgresStore) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM blobs WHERE starts_with(key, $1)`, prefix)
	if err != nil {
		return 0, fmt.Errorf("delete blobs under %s: %w", prefix, err)
	}
	return tag.RowsAffected(), nil
}

var _ Store = (*PostgresStore)(nil)
