package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          UUID PRIMARY KEY,
	timestamp   TIMESTAMPTZ NOT NULL,
	type        TEXT NOT NULL,
	tenant      TEXT NOT NULL DEFAULT '',
	tool_name   TEXT NOT NULL DEFAULT '',
	trace_id    TEXT NOT NULL DEFAULT '',
	agent_id    TEXT NOT NULL DEFAULT '',
	human_id    TEXT NOT NULL DEFAULT '',
	domain_name TEXT NOT NULL DEFAULT '',
	decision    TEXT NOT NULL DEFAULT '',
	code        TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	payload     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_agent_ts ON audit_events (agent_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS audit_events_tenant_ts ON audit_events (tenant, timestamp DESC);

CREATE TABLE IF NOT EXISTS tool_permissions (
	tool_name       TEXT PRIMARY KEY,
	required_scopes JSONB NOT NULL DEFAULT '[]',
	allowed_tenants JSONB NOT NULL DEFAULT '[]',
	description     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS scope_hierarchy (
	scope   TEXT PRIMARY KEY,
	implies JSONB NOT NULL DEFAULT '[]'
);`

// Open подключается к Postgres через pgx stdlib и проверяет соединение.
func Open(ctx context.Context, url string, maxConns, minConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(max(minConns, 1))
	db.SetConnMaxLifetime(5 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

// Migrate создаёт таблицы, если их ещё нет.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
