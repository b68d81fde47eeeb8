package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"shelfwatch/internal/config"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects the backend selected by cfg.Driver and prepares its schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverSQLite:
		return NewSQLite(ctx, cfg.DSN)
	case DriverPostgres:
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := NewPostgres(pool)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
