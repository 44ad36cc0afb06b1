package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// MockTwitchServer fakes the Twitch identity and Helix endpoints the bot uses.
// It serves both base URLs, so point IDBaseURL and HelixBaseURL at URL.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu    sync.Mutex
	calls map[string]*atomic.Int64
}

// NewMockTwitchServer creates a new mock Twitch API server.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string]*atomic.Int64),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.counter(key).Add(1)
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *MockTwitchServer) counter(path string) *atomic.Int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[path]
	if !ok {
		c = &atomic.Int64{}
		m.calls[path] = c
	}
	return c
}

// Calls returns how many requests hit path.
func (m *MockTwitchServer) Calls(path string) int64 {
	return m.counter(path).Load()
}

// MockToken describes a token the fake /oauth2/validate endpoint accepts.
type MockToken struct {
	ClientID string
	Login    string
	UserID   string
	Scopes   []string
}

// MockValidateResponse adds a handler for /oauth2/validate. Tokens not in the
// map are answered with 401 like Twitch does for expired tokens.
func (m *MockTwitchServer) MockValidateResponse(tokens map[string]MockToken) {
	m.Handlers["/oauth2/validate"] = func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "OAuth ")
		info, ok := tokens[tok]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": 401, "message": "invalid access token"}) //nolint:errcheck // test mock response
			return
		}
		scopes := info.Scopes
		if scopes == nil {
			scopes = []string{}
		}
		response := map[string]interface{}{
			"client_id":  info.ClientID,
			"login":      info.Login,
			"user_id":    info.UserID,
			"scopes":     scopes,
			"expires_in": 14400,
		}
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockUserResponse adds a handler for /helix/users resolving a single login.
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.MockUsersResponse(map[string]string{login: userID})
}

// MockUsersResponse adds a handler for /helix/users. Logins missing from the
// map get an empty data array.
func (m *MockTwitchServer) MockUsersResponse(ids map[string]string) {
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Client-Id") == "" || !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		login := r.URL.Query().Get("login")
		data := []map[string]string{}
		if id, ok := ids[login]; ok {
			data = append(data, map[string]string{"id": id, "login": login, "display_name": login})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data}) //nolint:errcheck // test mock response
	}
}

// MockOAuthTokenResponse adds a handler for the OAuth token endpoint.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken, refreshToken string, expiresIn int, scopes []string) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_in":    expiresIn,
			"scope":         scopes,
			"token_type":    "bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}
