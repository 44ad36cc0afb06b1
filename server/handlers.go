package server

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/onnwee/kissbot/bot"
	"github.com/onnwee/kissbot/llm"
	"github.com/onnwee/kissbot/twitchapi"
)

// maxOAuthStates bounds pending authorization states kept in memory.
const maxOAuthStates = 10000

// Authorizer runs the Twitch authorization code flow. *twitchapi.OAuth implements it.
type Authorizer interface {
	AuthorizeURL(state string) (string, error)
	ExchangeAuthCode(ctx context.Context, code string) (*twitchapi.Grant, error)
}

// TokenSaver persists an authorized grant. *db.Tokens implements it.
type TokenSaver interface {
	Save(ctx context.Context, account, access, refresh string, expiry time.Time, scopes []string) error
}

// Options holds the dependencies of the HTTP handlers. Only Report is required.
type Options struct {
	Instance string
	Report   *bot.Report
	DB       *sqlx.DB
	Breaker  *llm.Breaker
	OAuth    Authorizer
	Tokens   TokenSaver

	Auth      AuthConfig
	RateLimit RateLimitConfig
}

type pendingState struct {
	account string
	expires time.Time
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	opts Options

	stateMu    sync.Mutex
	stateStore map[string]pendingState
	now        func() time.Time
}

// NewHandlers creates a Handlers over opts.
func NewHandlers(opts Options) *Handlers {
	return &Handlers{
		opts:       opts,
		stateStore: make(map[string]pendingState),
		now:        time.Now,
	}
}

// addOAuthState records a state until expiry. It reports false when the
// store is full even after dropping expired entries.
func (h *Handlers) addOAuthState(state, account string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if len(h.stateStore) >= maxOAuthStates/2 {
		now := h.now()
		for s, p := range h.stateStore {
			if now.After(p.expires) {
				delete(h.stateStore, s)
			}
		}
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = pendingState{account: account, expires: expiry}
	return true
}

// takeOAuthState consumes a state, returning its account if still valid.
func (h *Handlers) takeOAuthState(state string) (string, bool) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	p, ok := h.stateStore[state]
	if !ok {
		return "", false
	}
	delete(h.stateStore, state)
	if h.now().After(p.expires) {
		return "", false
	}
	return p.account, true
}
