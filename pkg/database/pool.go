package database

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenPool opens the pgx pool used for COPY ingestion.
func OpenPool(ctx context.Context, cfg Config, logger ectologger.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pgx pool config: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach postgres through pgx pool: %w", err)
	}

	logger.WithContext(ctx).Debugf("pgx pool ready: max_conns=%d", poolConfig.MaxConns)
	return pool, nil
}
