package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAuthorizeURL(t *testing.T) {
	tests := []struct {
		name        string
		clientID    string
		redirectURI string
		scopes      []string
		state       string
		wantErr     bool
		wantParts   []string
	}{
		{
			name:        "valid request",
			clientID:    "test-client-id",
			redirectURI: "http://localhost/callback",
			scopes:      []string{"chat:read", "chat:edit"},
			state:       "random-state",
			wantParts:   []string{"client_id=test-client-id", "state=random-state", "scope=chat%3Aread+chat%3Aedit", "force_verify=true"},
		},
		{
			name:        "empty client ID",
			redirectURI: "http://localhost/callback",
			wantErr:     true,
		},
		{
			name:     "empty redirect URI",
			clientID: "client",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, err := NewOAuth(tt.clientID, "secret", tt.redirectURI, tt.scopes).AuthorizeURL(tt.state)
			if tt.wantErr {
				if err == nil {
					t.Error("AuthorizeURL() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("AuthorizeURL() unexpected error = %v", err)
			}
			for _, part := range tt.wantParts {
				if !strings.Contains(url, part) {
					t.Errorf("URL missing expected part %q: %s", part, url)
				}
			}
			if !strings.HasPrefix(url, "https://id.twitch.tv/oauth2/authorize") {
				t.Errorf("URL doesn't start with Twitch auth endpoint: %s", url)
			}
		})
	}
}

func newTokenServer(t *testing.T, wantGrant string, body map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != wantGrant {
			t.Errorf("grant_type = %q, want %q", got, wantGrant)
		}
		if got := r.PostForm.Get("client_id"); got != "cid" {
			t.Errorf("client_id = %q, want cid", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRefreshToken(t *testing.T) {
	srv := newTokenServer(t, "refresh_token", map[string]interface{}{
		"access_token": "new-access",
		"expires_in":   14400,
		"scope":        []string{"chat:read", "chat:edit"},
		"token_type":   "bearer",
	})
	o := NewOAuth("cid", "secret", "", nil)
	o.Config.Endpoint.TokenURL = srv.URL + "/oauth2/token"

	g, err := o.RefreshToken(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}
	if g.AccessToken != "new-access" {
		t.Errorf("AccessToken = %q, want new-access", g.AccessToken)
	}
	if g.RefreshToken != "old-refresh" {
		t.Errorf("RefreshToken = %q, want previous refresh token kept", g.RefreshToken)
	}
	if strings.Join(g.Scopes, " ") != "chat:edit chat:read" {
		t.Errorf("Scopes = %v, want sorted [chat:edit chat:read]", g.Scopes)
	}
	if time.Until(g.Expiry) < 3*time.Hour {
		t.Errorf("Expiry = %v, want ~4h from now", g.Expiry)
	}
}

func TestExchangeAuthCode(t *testing.T) {
	srv := newTokenServer(t, "authorization_code", map[string]interface{}{
		"access_token":  "a1",
		"refresh_token": "r1",
		"expires_in":    3600,
		"scope":         []string{"chat:read"},
		"token_type":    "bearer",
	})
	o := NewOAuth("cid", "secret", "http://localhost/cb", nil)
	o.Config.Endpoint.TokenURL = srv.URL + "/oauth2/token"

	g, err := o.ExchangeAuthCode(context.Background(), "the-code")
	if err != nil {
		t.Fatalf("ExchangeAuthCode() error = %v", err)
	}
	if g.AccessToken != "a1" || g.RefreshToken != "r1" {
		t.Errorf("grant = %+v", g)
	}
}

func TestRefreshTokenMissingParams(t *testing.T) {
	if _, err := NewOAuth("", "", "", nil).RefreshToken(context.Background(), "r"); err == nil {
		t.Error("expected error for missing client credentials")
	}
	if _, err := NewOAuth("cid", "secret", "", nil).RefreshToken(context.Background(), ""); err == nil {
		t.Error("expected error for empty refresh token")
	}
}

func TestScopesFromExtra(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{[]interface{}{"chat:read", "chat:edit"}, "chat:edit chat:read"},
		{"user:bot chat:read", "chat:read user:bot"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := strings.Join(scopesFromExtra(tt.in), " "); got != tt.want {
			t.Errorf("scopesFromExtra(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestComputeExpiry(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn int
		wantAfter time.Duration
	}{
		{"4 hours", 14400, 4 * time.Hour},
		{"zero defaults to 60 minutes", 0, 60 * time.Minute},
		{"negative defaults to 60 minutes", -100, 60 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now()
			expiry := ComputeExpiry(tt.expiresIn)
			after := time.Now()
			if expiry.Before(before.Add(tt.wantAfter).Add(-2*time.Second)) || expiry.After(after.Add(tt.wantAfter).Add(2*time.Second)) {
				t.Errorf("ComputeExpiry(%d) = %v, want approximately %v", tt.expiresIn, expiry, before.Add(tt.wantAfter))
			}
		})
	}
}
