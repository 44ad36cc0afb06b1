package db

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/onnwee/kissbot/crypto"
)

func testEncryptor(t *testing.T) *crypto.AESEncryptor {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	enc, err := crypto.NewAESEncryptor(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatal(err)
	}
	return enc
}

func TestSealOpen(t *testing.T) {
	enc := testEncryptor(t)
	r := &Tokens{Enc: enc}
	in := Token{Account: "bot", AccessToken: "access-123", RefreshToken: "refresh-456", Scope: "chat:read chat:edit"}

	sealed, err := r.seal(in)
	if err != nil {
		t.Fatalf("seal() error = %v", err)
	}
	if sealed.EncryptionVersion != 1 || !sealed.EncryptionKeyID.Valid {
		t.Errorf("sealed metadata = %d %v", sealed.EncryptionVersion, sealed.EncryptionKeyID)
	}
	if sealed.AccessToken == in.AccessToken || sealed.RefreshToken == in.RefreshToken {
		t.Error("tokens stored in plaintext")
	}

	opened, err := r.open(sealed)
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}
	if opened.AccessToken != in.AccessToken || opened.RefreshToken != in.RefreshToken {
		t.Errorf("open() = %+v", opened)
	}
	if got := opened.Scopes(); len(got) != 2 || got[0] != "chat:read" {
		t.Errorf("Scopes() = %v", got)
	}

	// Ciphertext is bound to the account it was written for.
	moved := sealed
	moved.Account = "broadcaster"
	if _, err := r.open(moved); err == nil {
		t.Error("open() of a row moved to another account should fail")
	}
}

func TestOpenPlaintextAndKeyMismatch(t *testing.T) {
	plain := Token{Account: "bot", AccessToken: "a", RefreshToken: "r"}

	got, err := (&Tokens{}).open(plain)
	if err != nil || got.AccessToken != "a" {
		t.Errorf("open(plaintext) = %+v, %v", got, err)
	}

	sealed, err := (&Tokens{Enc: testEncryptor(t)}).seal(plain)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := (&Tokens{}).open(sealed); err == nil {
		t.Error("encrypted row without encryptor should fail")
	}
	if _, err := (&Tokens{Enc: testEncryptor(t)}).open(sealed); err == nil {
		t.Error("encrypted row with a different key should fail")
	}
}

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	ctx := context.Background()
	dbx, err := Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := Migrate(ctx, dbx); err != nil {
		_ = dbx.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = dbx.Close() })
	return dbx
}

func TestTokensRoundTrip(t *testing.T) {
	dbx := setupTestDB(t)
	ctx := context.Background()
	r := NewTokens(dbx, testEncryptor(t))
	account := "test-roundtrip-" + time.Now().Format("150405.000")
	t.Cleanup(func() { _, _ = dbx.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE account = $1`, account) })

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := r.Save(ctx, account, "access", "refresh", expiry, []string{"chat:read", "chat:edit"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var raw string
	if err := dbx.GetContext(ctx, &raw, `SELECT access_token FROM oauth_tokens WHERE account = $1`, account); err != nil {
		t.Fatal(err)
	}
	if raw == "access" {
		t.Error("access token stored in plaintext")
	}

	got, err := r.Load(ctx, account)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.AccessToken != "access" || got.RefreshToken != "refresh" || !got.Expiry().Equal(expiry) {
		t.Errorf("Load() = %+v", got)
	}

	if err := r.Save(ctx, account, "access2", "refresh2", expiry, nil); err != nil {
		t.Fatalf("Save() update error = %v", err)
	}
	got, _ = r.Load(ctx, account)
	if got.AccessToken != "access2" {
		t.Errorf("update not applied: %+v", got)
	}

	if _, err := r.Load(ctx, "missing-account"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Load(missing) = %v, want ErrTokenNotFound", err)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dbx := setupTestDB(t)
	if err := Migrate(context.Background(), dbx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if err := RunMigrations(dbx.DB); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if err := RunMigrations(dbx.DB); err != nil {
		t.Fatalf("RunMigrations() second run error = %v", err)
	}
	v, dirty, err := MigrationVersion(dbx.DB)
	if err != nil || dirty || v < 2 {
		t.Errorf("MigrationVersion() = %d, %v, %v", v, dirty, err)
	}
}
