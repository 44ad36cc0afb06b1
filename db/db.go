// Package db provides the Postgres connection, schema migration and the
// OAuth token repository.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
	"github.com/jmoiron/sqlx"
)

// Connect opens a Postgres pool through the pgx stdlib driver and pings it.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty DB_DSN")
	}
	dbx, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	dbx.SetMaxOpenConns(10)
	dbx.SetMaxIdleConns(5)
	dbx.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbx.PingContext(pingCtx); err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	slog.Info("database connected", slog.String("component", "db"))
	return dbx, nil
}

// Migrate applies idempotent schema changes. It mirrors the versioned
// migrations so a fresh database works without golang-migrate.
func Migrate(ctx context.Context, dbx *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			account TEXT PRIMARY KEY,
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ,
			scope TEXT NOT NULL DEFAULT '',
			encryption_version INTEGER NOT NULL DEFAULT 0,
			encryption_key_id TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS broadcaster_ids (
			instance TEXT NOT NULL,
			channel TEXT NOT NULL,
			broadcaster_id TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			resolved_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (instance, channel)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_oauth_tokens_expires ON oauth_tokens(expires_at)`,
	}
	for i, s := range stmts {
		if _, err := dbx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}
