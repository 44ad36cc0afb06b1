package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/onnwee/kissbot/crypto"
)

// ErrTokenNotFound is returned by Load for an unknown account.
var ErrTokenNotFound = errors.New("oauth token not found")

// Token is one stored OAuth account (bot or broadcaster).
type Token struct {
	Account           string         `db:"account"`
	AccessToken       string         `db:"access_token"`
	RefreshToken      string         `db:"refresh_token"`
	ExpiresAt         sql.NullTime   `db:"expires_at"`
	Scope             string         `db:"scope"`
	EncryptionVersion int            `db:"encryption_version"`
	EncryptionKeyID   sql.NullString `db:"encryption_key_id"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

// Scopes splits the space separated scope column.
func (t Token) Scopes() []string { return strings.Fields(t.Scope) }

// Expiry returns the expiry or the zero time.
func (t Token) Expiry() time.Time {
	if t.ExpiresAt.Valid {
		return t.ExpiresAt.Time
	}
	return time.Time{}
}

// Tokens persists OAuth accounts. With Enc set, access and refresh tokens are
// stored encrypted (encryption_version=1); plaintext rows still load.
type Tokens struct {
	DB  *sqlx.DB
	Enc crypto.Encryptor
}

// NewTokens returns a repository; enc may be nil.
func NewTokens(dbx *sqlx.DB, enc crypto.Encryptor) *Tokens {
	if enc == nil {
		slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext", slog.String("component", "db_tokens"))
	}
	return &Tokens{DB: dbx, Enc: enc}
}

// Save upserts the account's tokens.
func (r *Tokens) Save(ctx context.Context, account, access, refresh string, expiry time.Time, scopes []string) error {
	if account == "" {
		return fmt.Errorf("account is empty")
	}
	row, err := r.seal(Token{
		Account:      account,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    sql.NullTime{Time: expiry, Valid: !expiry.IsZero()},
		Scope:        strings.Join(scopes, " "),
	})
	if err != nil {
		return err
	}
	q := `INSERT INTO oauth_tokens(account, access_token, refresh_token, expires_at, scope, encryption_version, encryption_key_id, updated_at)
		  VALUES(:account, :access_token, :refresh_token, :expires_at, :scope, :encryption_version, :encryption_key_id, NOW())
		  ON CONFLICT(account) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    scope=EXCLUDED.scope,
		    encryption_version=EXCLUDED.encryption_version,
		    encryption_key_id=EXCLUDED.encryption_key_id,
		    updated_at=NOW()`
	if _, err := r.DB.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("save oauth token %s: %w", account, err)
	}
	return nil
}

// Load returns the decrypted token for account or ErrTokenNotFound.
func (r *Tokens) Load(ctx context.Context, account string) (Token, error) {
	var row Token
	err := r.DB.GetContext(ctx, &row,
		`SELECT account, access_token, refresh_token, expires_at, scope, encryption_version, encryption_key_id, updated_at
		 FROM oauth_tokens WHERE account = $1`, account)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, fmt.Errorf("%w: %s", ErrTokenNotFound, account)
	}
	if err != nil {
		return Token{}, fmt.Errorf("load oauth token %s: %w", account, err)
	}
	return r.open(row)
}

// List returns every stored account, decrypted, ordered by name.
func (r *Tokens) List(ctx context.Context) ([]Token, error) {
	var rows []Token
	if err := r.DB.SelectContext(ctx, &rows,
		`SELECT account, access_token, refresh_token, expires_at, scope, encryption_version, encryption_key_id, updated_at
		 FROM oauth_tokens ORDER BY account`); err != nil {
		return nil, fmt.Errorf("list oauth tokens: %w", err)
	}
	out := make([]Token, 0, len(rows))
	for _, row := range rows {
		t, err := r.open(row)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *Tokens) seal(t Token) (Token, error) {
	if r.Enc == nil {
		t.EncryptionVersion = 0
		return t, nil
	}
	access, err := crypto.EncryptString(r.Enc, t.AccessToken, t.Account)
	if err != nil {
		return Token{}, fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err := crypto.EncryptString(r.Enc, t.RefreshToken, t.Account)
	if err != nil {
		return Token{}, fmt.Errorf("encrypt refresh token: %w", err)
	}
	t.AccessToken, t.RefreshToken = access, refresh
	t.EncryptionVersion = 1
	t.EncryptionKeyID = sql.NullString{String: r.Enc.KeyID(), Valid: true}
	return t, nil
}

func (r *Tokens) open(t Token) (Token, error) {
	if t.EncryptionVersion == 0 {
		return t, nil
	}
	if r.Enc == nil {
		return Token{}, fmt.Errorf("token for %s is encrypted but ENCRYPTION_KEY not configured", t.Account)
	}
	if t.EncryptionKeyID.Valid && t.EncryptionKeyID.String != r.Enc.KeyID() {
		return Token{}, fmt.Errorf("token for %s was encrypted with key %s, configured key is %s", t.Account, t.EncryptionKeyID.String, r.Enc.KeyID())
	}
	access, err := crypto.DecryptString(r.Enc, t.AccessToken, t.Account)
	if err != nil {
		return Token{}, fmt.Errorf("decrypt access token: %w", err)
	}
	refresh, err := crypto.DecryptString(r.Enc, t.RefreshToken, t.Account)
	if err != nil {
		return Token{}, fmt.Errorf("decrypt refresh token: %w", err)
	}
	t.AccessToken, t.RefreshToken = access, refresh
	return t, nil
}
