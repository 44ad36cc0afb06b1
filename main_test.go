package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/kissbot/bot"
	"github.com/onnwee/kissbot/config"
	"github.com/onnwee/kissbot/db"
	"github.com/onnwee/kissbot/scopes"
	"github.com/onnwee/kissbot/store"
	"github.com/onnwee/kissbot/testutil"
	"github.com/onnwee/kissbot/twitchapi"
)

type memTokens map[string]db.Token

func (m memTokens) Load(_ context.Context, account string) (db.Token, error) {
	t, ok := m[account]
	if !ok {
		return db.Token{}, fmt.Errorf("%w: %s", db.ErrTokenNotFound, account)
	}
	return t, nil
}

func (m memTokens) Save(_ context.Context, account, access, refresh string, expiry time.Time, scopes []string) error {
	m[account] = db.Token{
		Account: account, AccessToken: access, RefreshToken: refresh,
		ExpiresAt: sql.NullTime{Time: expiry, Valid: true}, Scope: strings.Join(scopes, " "),
	}
	return nil
}

func dbConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Bot.RefreshWindow = 15 * time.Minute
	cfg.Twitch.Accounts = []config.Account{{Name: "bot", FromDB: true}}
	return cfg
}

func TestLoadAccountsRefreshesExpiredToken(t *testing.T) {
	repo := memTokens{"bot": {
		Account: "bot", AccessToken: "stale", RefreshToken: "r1", Scope: "chat:read chat:edit",
		ExpiresAt: sql.NullTime{Time: time.Now().Add(-6 * time.Hour), Valid: true},
	}}
	var used string
	refresh := func(_ context.Context, rt string) (*twitchapi.Grant, error) {
		used = rt
		return &twitchapi.Grant{AccessToken: "fresh", RefreshToken: "r2", Expiry: time.Now().Add(4 * time.Hour)}, nil
	}

	accounts, err := loadAccounts(context.Background(), dbConfig(), repo, refresh)
	if err != nil {
		t.Fatalf("loadAccounts() error = %v", err)
	}
	if used != "r1" {
		t.Errorf("refresh token used = %q, want r1", used)
	}
	if len(accounts) != 1 || accounts[0].Token != "fresh" {
		t.Fatalf("accounts = %+v, want fresh token", accounts)
	}
	if got := repo["bot"].Scope; got != "chat:read chat:edit" {
		t.Errorf("scopes after refresh = %q", got)
	}

	m := testutil.NewMockTwitchServer(t)
	m.MockValidateResponse(map[string]testutil.MockToken{
		"fresh": {ClientID: "cid", Login: "kissbot", UserID: "100", Scopes: []string{"chat:read", "chat:edit"}},
	})
	client := &twitchapi.Client{ClientID: "cid", IDBaseURL: m.URL, HelixBaseURL: m.URL}
	gate := &bot.Gate{Validator: scopes.NewValidator(client), Store: store.NewMemoryStore(), ClientID: "cid"}
	if _, err := gate.Run(context.Background(), accounts, nil); err != nil {
		t.Errorf("gate.Run() error = %v", err)
	}
}

func TestLoadAccounts(t *testing.T) {
	valid := db.Token{
		Account: "bot", AccessToken: "current", RefreshToken: "r1",
		ExpiresAt: sql.NullTime{Time: time.Now().Add(3 * time.Hour), Valid: true},
	}
	expired := valid
	expired.AccessToken = "stale"
	expired.ExpiresAt.Time = time.Now().Add(-time.Hour)
	boom := errors.New("refresh rejected")

	tests := []struct {
		name      string
		repo      memTokens
		refresh   func(context.Context, string) (*twitchapi.Grant, error)
		nilRepo   bool
		wantToken string
		wantErr   bool
	}{
		{name: "valid token is not refreshed", repo: memTokens{"bot": valid}, refresh: func(context.Context, string) (*twitchapi.Grant, error) {
			return nil, boom
		}, wantToken: "current"},
		{name: "failed refresh keeps stored token", repo: memTokens{"bot": expired}, refresh: func(context.Context, string) (*twitchapi.Grant, error) {
			return nil, boom
		}, wantToken: "stale"},
		{name: "no refresher configured", repo: memTokens{"bot": expired}, wantToken: "stale"},
		{name: "missing row", repo: memTokens{}, wantErr: true},
		{name: "no database", nilRepo: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				accounts []bot.Account
				err      error
			)
			if tt.nilRepo {
				accounts, err = loadAccounts(context.Background(), dbConfig(), nil, nil)
			} else {
				accounts, err = loadAccounts(context.Background(), dbConfig(), tt.repo, tt.refresh)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadAccounts() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if accounts[0].Token != tt.wantToken {
				t.Errorf("token = %q, want %q", accounts[0].Token, tt.wantToken)
			}
		})
	}
}
