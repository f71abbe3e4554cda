package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"utxo-diff-alerts/internal/config"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS address_snapshots (
    address    TEXT        NOT NULL,
    network    TEXT        NOT NULL,
    height     BIGINT      NOT NULL,
    outputs    JSONB       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (address, network)
);

CREATE TABLE IF NOT EXISTS utxo_events (
    id               BIGSERIAL   PRIMARY KEY,
    address          TEXT        NOT NULL,
    network          TEXT        NOT NULL,
    kind             TEXT        NOT NULL,
    txid             TEXT        NOT NULL,
    vout             BIGINT      NOT NULL,
    value_sats       BIGINT      NOT NULL,
    confirmed_height BIGINT,
    height           BIGINT      NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (address, network, kind, txid, vout, height)
);

CREATE INDEX IF NOT EXISTS idx_utxo_events_created_at ON utxo_events (created_at);
CREATE INDEX IF NOT EXISTS idx_utxo_events_address ON utxo_events (address, created_at);
`

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

// EnsureSchema creates the tables the watcher needs when they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
