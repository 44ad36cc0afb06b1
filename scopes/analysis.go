package scopes

import (
	"errors"
	"fmt"
)

// TokenAnalysis is the outcome of validating one token against a Registry.
// It is built once by Validator.ValidateToken and not mutated afterwards.
type TokenAnalysis struct {
	Valid     bool
	UserID    string
	Login     string
	ClientID  string
	ExpiresIn int

	// Scopes is the sorted set of granted scopes.
	Scopes []string

	MissingCritical []string
	MissingOptional []string

	// Available and Unavailable hold feature names in registry order.
	Available   []string
	Unavailable []string

	Warnings []string

	// Err is set when the token itself was rejected. It wraps ErrInvalidToken.
	Err error

	features map[string]bool
	gaps     []*ScopeError
}

// Enabled reports whether the feature with the given registry key is usable.
func (a TokenAnalysis) Enabled(key string) bool {
	return a.features[key]
}

// Gaps returns one ScopeError per feature that lacks scopes.
func (a TokenAnalysis) Gaps() []*ScopeError {
	out := make([]*ScopeError, len(a.gaps))
	copy(out, a.gaps)
	return out
}

// Fatal returns the startup-blocking error for this analysis, or nil. The
// error enumerates every critical feature that lacks scopes.
func (a TokenAnalysis) Fatal() error {
	if a.Valid {
		return nil
	}
	if a.Err != nil {
		return a.Err
	}
	var errs []error
	for _, g := range a.gaps {
		if g.Criticality == Critical {
			errs = append(errs, g)
		}
	}
	if len(errs) == 0 {
		return fmt.Errorf("%w: token for %q", ErrMissingCriticalScope, a.Login)
	}
	return errors.Join(errs...)
}

// Result is the metrics label for the analysis.
func (a TokenAnalysis) Result() string {
	switch {
	case a.Err != nil:
		return "invalid"
	case !a.Valid:
		return "missing_critical"
	case len(a.MissingOptional) > 0:
		return "degraded"
	default:
		return "valid"
	}
}
