package infra

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/congo-pay/congo_auth/internal/identity"
)

// NewPostgresPool configures a PostgreSQL connection pool, verifies it and
// applies the users schema.
func NewPostgresPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, oops.Code("INFRA_CONFIG_MISSING").Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, oops.Code("INFRA_CONFIG_INVALID").Wrapf(err, "parse postgres config")
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("INFRA_CONNECT_FAILED").With("backend", "postgres").Wrapf(err, "connect postgres")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("INFRA_CONNECT_FAILED").With("backend", "postgres").Wrapf(err, "ping postgres")
	}

	if err := identity.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}
