package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresStore persists broadcaster ids per bot instance so a restart does
// not repeat the Helix lookups. Table broadcaster_ids is created by db.Migrate.
type PostgresStore struct {
	db       *sqlx.DB
	instance string
}

// NewPostgresStore scopes the store to one instance (tenant) name.
func NewPostgresStore(dbx *sqlx.DB, instance string) *PostgresStore {
	if instance == "" {
		instance = "default"
	}
	return &PostgresStore{db: dbx, instance: instance}
}

func (s *PostgresStore) Get(ctx context.Context, channel string) (string, bool, error) {
	var id string
	err := s.db.GetContext(ctx, &id,
		`SELECT broadcaster_id FROM broadcaster_ids WHERE instance = $1 AND channel = $2`,
		s.instance, Normalize(channel))
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get broadcaster id for %s: %w", channel, err)
	}
	return id, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, channel, id string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcaster_ids(instance, channel, broadcaster_id, display_name, resolved_at)
		 VALUES($1, $2, $3, $4, NOW())
		 ON CONFLICT(instance, channel) DO UPDATE SET
		   broadcaster_id=EXCLUDED.broadcaster_id,
		   display_name=EXCLUDED.display_name,
		   resolved_at=NOW()`,
		s.instance, Normalize(channel), id, channel)
	if err != nil {
		return fmt.Errorf("put broadcaster id for %s: %w", channel, err)
	}
	return nil
}

func (s *PostgresStore) All(ctx context.Context) (map[string]string, error) {
	var rows []struct {
		Channel       string `db:"channel"`
		BroadcasterID string `db:"broadcaster_id"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT channel, broadcaster_id FROM broadcaster_ids WHERE instance = $1`, s.instance); err != nil {
		return nil, fmt.Errorf("list broadcaster ids: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Channel] = r.BroadcasterID
	}
	return out, nil
}
