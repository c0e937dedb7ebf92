package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coronasafe/care-abdm/internal/platform/config"
)

// New creates a pgx connection pool and verifies connectivity.
// Returns nil if no URL is configured (in-memory stores are used instead).
func New(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return pool, nil
}
