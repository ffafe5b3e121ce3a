package postgres

import (
	"context"
	"fmt"

	"agent-payment-gateway/config"
	"agent-payment-gateway/internal/core/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Pool is the part of *pgxpool.Pool the repositories use. pgxmock pools satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// NewPool creates a PostgreSQL connection pool using pgx.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("dbname", cfg.DBName).
		Int32("max_conns", cfg.MaxConns).
		Msg("PostgreSQL connection pool established")

	return pool, nil
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS approval_requests (
		id          UUID PRIMARY KEY,
		description TEXT NOT NULL,
		status      VARCHAR(16) NOT NULL,
		resolved_by TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_approval_requests_pending ON approval_requests (status) WHERE status = 'PENDING'`,
	`CREATE TABLE IF NOT EXISTS payments (
		id             UUID PRIMARY KEY,
		reference_id   TEXT NOT NULL DEFAULT '',
		approval_id    UUID REFERENCES approval_requests (id),
		destination    VARCHAR(42) NOT NULL,
		amount         NUMERIC(78, 18) NOT NULL,
		asset          VARCHAR(16) NOT NULL,
		memo           TEXT NOT NULL DEFAULT '',
		network        VARCHAR(32) NOT NULL,
		state          VARCHAR(24) NOT NULL,
		tx_hash        TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		callback_url   TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_reference ON payments (reference_id) WHERE reference_id <> ''`,
	`CREATE INDEX IF NOT EXISTS idx_payments_created ON payments (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id            UUID PRIMARY KEY,
		action        VARCHAR(32) NOT NULL,
		resource_type VARCHAR(32) NOT NULL,
		resource_id   TEXT NOT NULL DEFAULT '',
		actor         TEXT NOT NULL DEFAULT '',
		details       JSONB,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs (resource_type, resource_id)`,
}

// HealthCheck reports PostgreSQL as "postgresql" on the health endpoint.
func HealthCheck(pool Pool) ports.HealthChecker {
	return ports.HealthCheckFunc{
		Label: "postgresql",
		Check: func(ctx context.Context) error {
			_, err := pool.Exec(ctx, "SELECT 1")
			return err
		},
	}
}
