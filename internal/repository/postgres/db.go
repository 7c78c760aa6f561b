// Package postgres — хранилища на PostgreSQL (pgx).
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/guildops-agent/internal/infra"
)

// DB общий пул соединений для репозиториев.
type DB struct {
	pool *pgxpool.Pool
}

// NewDB открывает пул и проверяет доступность базы.
func NewDB(ctx context.Context, cfg infra.DatabaseConfig) (*DB, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Migrate создает таблицы, если их нет.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (d *DB) Close() {
	d.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS confirmation_records (
	id                    TEXT PRIMARY KEY,
	action                TEXT NOT NULL,
	actor_id              TEXT NOT NULL,
	guild_id              TEXT NOT NULL,
	target_id             TEXT,
	payload               JSONB NOT NULL,
	confirmation_required BOOLEAN NOT NULL DEFAULT FALSE,
	confirmation_status   TEXT NOT NULL,
	status                TEXT NOT NULL,
	error_message         TEXT,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS confirmation_records_guild_idx ON confirmation_records (guild_id, created_at DESC);

CREATE TABLE IF NOT EXISTS thread_memory (
	thread_id     TEXT PRIMARY KEY,
	guild_id      TEXT NOT NULL,
	owner_user_id TEXT NOT NULL,
	summary       TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id           TEXT PRIMARY KEY,
	trace_id     TEXT NOT NULL DEFAULT '',
	record_id    TEXT NOT NULL DEFAULT '',
	guild_id     TEXT NOT NULL,
	actor_id     TEXT NOT NULL DEFAULT '',
	actor_tag    TEXT NOT NULL DEFAULT '',
	action       TEXT NOT NULL,
	status       TEXT NOT NULL,
	confirmation TEXT NOT NULL DEFAULT '',
	message      TEXT NOT NULL DEFAULT '',
	mode         TEXT NOT NULL,
	timestamp    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_logs_guild_idx ON audit_logs (guild_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS guild_settings (
	guild_id           TEXT PRIMARY KEY,
	language           TEXT NOT NULL DEFAULT 'en',
	rate_limit_per_min INTEGER NOT NULL DEFAULT 0,
	log_channel_id     TEXT NOT NULL DEFAULT '',
	manager_role_id    TEXT NOT NULL DEFAULT '',
	paused             BOOLEAN NOT NULL DEFAULT FALSE,
	dry_run            BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	scopes        JSONB NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
