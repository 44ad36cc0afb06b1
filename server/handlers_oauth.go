package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/kissbot/telemetry"
)

const oauthStateTTL = 10 * time.Minute

// HandleTwitchOAuthStart redirects to Twitch to authorize ?account= (default "bot").
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.opts.OAuth == nil || h.opts.Tokens == nil {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_SECRET, DB_DSN and ENCRYPTION_KEY)", http.StatusBadRequest)
		return
	}
	account := r.URL.Query().Get("account")
	if account == "" {
		account = "bot"
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	st := hex.EncodeToString(b)
	if !h.addOAuthState(st, account, h.now().Add(oauthStateTTL)) {
		http.Error(w, "too many pending authorizations", http.StatusServiceUnavailable)
		return
	}
	authURL, err := h.opts.OAuth.AuthorizeURL(st)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback exchanges the code and stores the encrypted tokens.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.opts.OAuth == nil || h.opts.Tokens == nil {
		http.Error(w, "oauth not configured", http.StatusBadRequest)
		return
	}
	if e := r.URL.Query().Get("error"); e != "" {
		http.Error(w, "authorization denied: "+e, http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	account, ok := h.takeOAuthState(st)
	if !ok {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "oauth"), slog.String("account", account))
	grant, err := h.opts.OAuth.ExchangeAuthCode(ctx, code)
	if err != nil {
		logger.Error("code exchange failed", slog.Any("err", err))
		http.Error(w, "code exchange failed", http.StatusBadGateway)
		return
	}
	if err := h.opts.Tokens.Save(ctx, account, grant.AccessToken, grant.RefreshToken, grant.Expiry, grant.Scopes); err != nil {
		logger.Error("persist token failed", slog.Any("err", err))
		http.Error(w, "persist token failed", http.StatusInternalServerError)
		return
	}
	logger.Info("account authorized", slog.Int("scopes", len(grant.Scopes)))
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":     "ok",
		"account":    account,
		"scopes":     grant.Scopes,
		"expires_at": grant.Expiry,
	})
}
