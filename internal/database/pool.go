package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/deribit-data/internal/config"
)

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Execer runs a single statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// schema creates the tables the book writer inserts into. The unique indexes
// back the writers' ON CONFLICT clauses.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS book_deltas (
		exchange_ts  BIGINT           NOT NULL,
		received_at  BIGINT           NOT NULL,
		instrument   TEXT             NOT NULL,
		side         BOOLEAN          NOT NULL,
		action       TEXT             NOT NULL,
		price        DOUBLE PRECISION NOT NULL,
		amount       DOUBLE PRECISION NOT NULL,
		change_id    BIGINT           NOT NULL,
		is_snapshot  BOOLEAN          NOT NULL DEFAULT FALSE,
		gap          BOOLEAN          NOT NULL DEFAULT FALSE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS book_deltas_key
		ON book_deltas (instrument, change_id, side, price)`,
	`CREATE INDEX IF NOT EXISTS book_deltas_instrument_ts
		ON book_deltas (instrument, exchange_ts)`,
	`CREATE TABLE IF NOT EXISTS book_snapshots (
		exchange_ts  BIGINT           NOT NULL,
		received_at  BIGINT           NOT NULL,
		instrument   TEXT             NOT NULL,
		change_id    BIGINT           NOT NULL,
		bids         JSONB            NOT NULL,
		asks         JSONB            NOT NULL,
		best_bid     DOUBLE PRECISION,
		best_ask     DOUBLE PRECISION,
		spread       DOUBLE PRECISION
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS book_snapshots_key
		ON book_snapshots (instrument, change_id)`,
}

// EnsureSchema creates the book tables and indexes if they are missing.
func EnsureSchema(ctx context.Context, db Execer) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
