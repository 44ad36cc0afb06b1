package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAdminAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	tests := []struct {
		name     string
		cfg      AuthConfig
		setup    func(r *http.Request)
		wantCode int
	}{
		{name: "disabled", cfg: AuthConfig{}, wantCode: http.StatusOK},
		{name: "token ok", cfg: AuthConfig{Token: "s3cret"}, setup: func(r *http.Request) { r.Header.Set("X-Admin-Token", "s3cret") }, wantCode: http.StatusOK},
		{name: "token wrong", cfg: AuthConfig{Token: "s3cret"}, setup: func(r *http.Request) { r.Header.Set("X-Admin-Token", "nope") }, wantCode: http.StatusUnauthorized},
		{name: "no credentials", cfg: AuthConfig{Token: "s3cret"}, wantCode: http.StatusUnauthorized},
		{name: "basic ok", cfg: AuthConfig{Username: "admin", Password: "pw"}, setup: func(r *http.Request) { r.SetBasicAuth("admin", "pw") }, wantCode: http.StatusOK},
		{name: "basic wrong", cfg: AuthConfig{Username: "admin", Password: "pw"}, setup: func(r *http.Request) { r.SetBasicAuth("admin", "x") }, wantCode: http.StatusUnauthorized},
		{name: "username without password", cfg: AuthConfig{Username: "admin"}, wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/twitch/start", nil)
			if tt.setup != nil {
				tt.setup(req)
			}
			rr := httptest.NewRecorder()
			adminAuth(ok, tt.cfg).ServeHTTP(rr, req)
			if rr.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rr.Code, tt.wantCode)
			}
			if rr.Code == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newIPRateLimiter(ctx, RateLimitConfig{RequestsPerIP: 2, Window: time.Minute})
	rl.now = func() time.Time { return now }

	for i, want := range []bool{true, true, false} {
		if got := rl.allow("10.0.0.1"); got != want {
			t.Errorf("request %d: allow = %v, want %v", i, got, want)
		}
	}
	if !rl.allow("10.0.0.2") {
		t.Error("other IP should not share the budget")
	}

	now = now.Add(61 * time.Second)
	if !rl.allow("10.0.0.1") {
		t.Error("window should have slid")
	}

	now = now.Add(3 * time.Minute)
	rl.cleanup()
	rl.mu.Lock()
	n := len(rl.visitors)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("visitors after cleanup = %d", n)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := newIPRateLimiter(ctx, RateLimitConfig{RequestsPerIP: 1, Window: time.Minute})
	h := rateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}), rl)

	codes := []int{}
	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/auth/twitch/start", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}

	disabled := newIPRateLimiter(ctx, RateLimitConfig{Disabled: true, RequestsPerIP: 1})
	for range 3 {
		if !disabled.allow("x") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote, fwd, want string
	}{
		{remote: "192.0.2.1:5555", want: "192.0.2.1"},
		{remote: "[::1]:5555", want: "::1"},
		{remote: "192.0.2.1:5555", fwd: "203.0.113.7, 10.0.0.1", want: "203.0.113.7"},
		{remote: "pipe", want: "pipe"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if tt.fwd != "" {
			req.Header.Set("X-Forwarded-For", tt.fwd)
		}
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%s, %s) = %q, want %q", tt.remote, tt.fwd, got, tt.want)
		}
	}
}
