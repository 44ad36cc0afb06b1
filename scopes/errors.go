package scopes

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidToken means Twitch rejected the token or it expired.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrMissingCriticalScope blocks startup.
	ErrMissingCriticalScope = errors.New("missing critical scope")
	// ErrMissingOptionalScope disables a single feature.
	ErrMissingOptionalScope = errors.New("missing optional scope")
	// ErrChannelNotFound means a channel login did not resolve to a broadcaster id.
	ErrChannelNotFound = errors.New("channel not found")
)

// ScopeError names a feature and the scopes it lacks.
type ScopeError struct {
	Feature     string
	Criticality Criticality
	Missing     []string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("%s: feature %q requires %s", e.Unwrap(), e.Feature, strings.Join(e.Missing, ", "))
}

// Unwrap maps the error onto ErrMissingCriticalScope or ErrMissingOptionalScope.
func (e *ScopeError) Unwrap() error {
	if e.Criticality == Critical {
		return ErrMissingCriticalScope
	}
	return ErrMissingOptionalScope
}
