package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDBPool connects to store.database_url and pings it once. The pool is
// sized for the worker slots plus HTTP traffic.
func NewDBPool(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, errors.New("db: config is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.Store.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: parse database url: %w", err)
	}

	maxConns := cfg.Store.MaxConns
	if floor := int32(cfg.Worker.Size) + 2; maxConns < floor {
		maxConns = floor
	}
	poolCfg.MaxConns = maxConns
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 15 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return pool, nil
}
