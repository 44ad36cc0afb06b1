// Package main encrypts stored OAuth tokens that are still in plaintext
// (encryption_version=0) with the configured ENCRYPTION_KEY.
//
// Usage:
//
//	migrate-tokens [--dry-run] [--account NAME]
//
// Environment Variables:
//
//	DB_DSN: Database connection string (required)
//	ENCRYPTION_KEY: Base64-encoded 32-byte encryption key (required)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/onnwee/kissbot/crypto"
	"github.com/onnwee/kissbot/db"
)

// tokenStore is the subset of db.Tokens used here.
type tokenStore interface {
	List(ctx context.Context) ([]db.Token, error)
	Save(ctx context.Context, account, access, refresh string, expiry time.Time, scopes []string) error
}

func main() {
	dryRun := flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	account := flag.String("account", "", "Migrate one account only (default: all accounts)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		slog.Error("DB_DSN environment variable is required")
		os.Exit(1)
	}
	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		slog.Error("ENCRYPTION_KEY environment variable is required for migration")
		os.Exit(1)
	}
	enc, err := crypto.NewAESEncryptor(key)
	if err != nil {
		slog.Error("failed to initialize encryptor", slog.Any("error", err))
		os.Exit(1)
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close()

	n, err := migrateTokens(ctx, db.NewTokens(database, enc), *dryRun, *account)
	if err != nil {
		slog.Error("migration failed", slog.Any("error", err))
		database.Close()
		os.Exit(1)
	}
	slog.Info("migration completed successfully", slog.Int("migrated", n), slog.Bool("dry_run", *dryRun))
}

// migrateTokens re-saves every plaintext token through an encrypting store
// and returns how many rows were (or, with dryRun, would be) migrated.
func migrateTokens(ctx context.Context, store tokenStore, dryRun bool, account string) (int, error) {
	rows, err := store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range rows {
		if t.EncryptionVersion != 0 || (account != "" && t.Account != account) {
			continue
		}
		n++
		if dryRun {
			slog.Info("would encrypt token", slog.String("account", t.Account))
			continue
		}
		if err := store.Save(ctx, t.Account, t.AccessToken, t.RefreshToken, t.Expiry(), t.Scopes()); err != nil {
			return n - 1, fmt.Errorf("encrypt token for %s: %w", t.Account, err)
		}
		slog.Info("encrypted token", slog.String("account", t.Account))
	}
	return n, nil
}
