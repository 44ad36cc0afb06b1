package scopes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/onnwee/kissbot/telemetry"
	"github.com/onnwee/kissbot/twitchapi"
)

// TokenClient is the slice of the Twitch API the validator needs.
// *twitchapi.Client implements it.
type TokenClient interface {
	ValidateToken(ctx context.Context, token string) (*twitchapi.Validation, error)
	GetUser(ctx context.Context, clientID, token, login string) (*twitchapi.User, error)
}

// Validator checks tokens against a Registry and resolves channels. Each call
// performs exactly one request; timeouts come from ctx and the client.
type Validator struct {
	Client   TokenClient
	Registry Registry
}

// NewValidator returns a Validator using the default registry.
func NewValidator(client TokenClient) *Validator {
	return &Validator{Client: client, Registry: DefaultRegistry()}
}

func (v *Validator) registry() Registry {
	if len(v.Registry) == 0 {
		return DefaultRegistry()
	}
	return v.Registry
}

// ValidateToken validates token and derives which features it enables.
// Failures are reported in the returned analysis, never as a panic or error.
func (v *Validator) ValidateToken(ctx context.Context, token, clientID string) TokenAnalysis {
	reg := v.registry()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "scopes"))

	val, err := v.Client.ValidateToken(ctx, twitchapi.CleanToken(token))
	if err != nil {
		a := rejected(reg, err)
		logger.Error("token validation failed", slog.String("token", twitchapi.MaskToken(token)), slog.Any("err", err))
		telemetry.IncValidation(a.Result())
		return a
	}

	a := analyze(reg, val)
	if clientID != "" && val.ClientID != "" && val.ClientID != clientID {
		a.Warnings = append(a.Warnings, fmt.Sprintf("token was issued for client id %s, configured client id is %s", val.ClientID, clientID))
	}
	logger.Info("token validated",
		slog.String("login", a.Login),
		slog.Bool("valid", a.Valid),
		slog.Int("available", len(a.Available)),
		slog.Int("unavailable", len(a.Unavailable)))
	telemetry.IncValidation(a.Result())
	return a
}

func rejected(reg Registry, cause error) TokenAnalysis {
	a := TokenAnalysis{
		MissingCritical: reg.CriticalScopes(),
		features:        map[string]bool{},
	}
	if errors.Is(cause, twitchapi.ErrUnauthorized) {
		a.Err = fmt.Errorf("%w: %w", ErrInvalidToken, cause)
	} else {
		a.Err = fmt.Errorf("%w: validation request failed: %w", ErrInvalidToken, cause)
	}
	for _, r := range reg {
		a.Unavailable = append(a.Unavailable, r.Name)
	}
	a.Warnings = []string{"token rejected or expired: bot cannot start", a.Err.Error()}
	return a
}

func analyze(reg Registry, val *twitchapi.Validation) TokenAnalysis {
	granted := make(map[string]struct{}, len(val.Scopes))
	for _, s := range val.Scopes {
		granted[s] = struct{}{}
	}
	a := TokenAnalysis{
		Valid:     true,
		UserID:    val.UserID,
		Login:     val.Login,
		ClientID:  val.ClientID,
		ExpiresIn: val.ExpiresIn,
		Scopes:    append([]string(nil), val.Scopes...),
		features:  make(map[string]bool, len(reg)),
	}
	sort.Strings(a.Scopes)

	var details []string
	for _, r := range reg {
		missing := r.Missing(granted)
		if len(missing) == 0 {
			a.features[r.Key] = true
			a.Available = append(a.Available, r.Name)
			continue
		}
		a.features[r.Key] = false
		a.Unavailable = append(a.Unavailable, r.Name)
		a.gaps = append(a.gaps, &ScopeError{Feature: r.Name, Criticality: r.Criticality, Missing: missing})
		if r.Criticality == Critical {
			a.Valid = false
			a.MissingCritical = append(a.MissingCritical, missing...)
			details = append(details, fmt.Sprintf("%s unavailable (critical): missing %s", r.Name, strings.Join(missing, ", ")))
		} else {
			a.MissingOptional = append(a.MissingOptional, missing...)
			details = append(details, fmt.Sprintf("%s disabled: missing %s", r.Name, strings.Join(missing, ", ")))
		}
	}

	var summary string
	switch {
	case !a.Valid:
		summary = "critical scopes missing: bot cannot start"
	case len(a.MissingOptional) > 0:
		summary = fmt.Sprintf("%d feature(s) disabled by missing optional scopes", len(a.Unavailable))
	default:
		summary = "all required scopes present"
	}
	a.Warnings = append([]string{summary}, details...)
	return a
}

// FetchBroadcasterID resolves a channel login to its numeric broadcaster id.
// An unknown channel or a failed request yields ("", false); caching the
// result is the caller's job.
func (v *Validator) FetchBroadcasterID(ctx context.Context, channel, clientID, token string) (string, bool) {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "scopes"), slog.String("channel", channel))
	ctx, span := telemetry.StartSpan(ctx, "scopes", "fetch_broadcaster_id", telemetry.ChannelAttr(channel))
	defer span.End()

	u, err := v.Client.GetUser(ctx, clientID, token, channel)
	if err != nil {
		if errors.Is(err, twitchapi.ErrUserNotFound) {
			logger.Warn("channel not found", slog.Any("err", fmt.Errorf("%w: %w", ErrChannelNotFound, err)))
			telemetry.IncLookup("not_found")
		} else {
			logger.Error("broadcaster lookup failed", slog.Any("err", err))
			telemetry.IncLookup("error")
		}
		telemetry.RecordError(span, err)
		return "", false
	}
	if u.ID == "" {
		logger.Warn("broadcaster lookup returned empty id")
		telemetry.IncLookup("not_found")
		return "", false
	}
	logger.Info("broadcaster id resolved", slog.String("broadcaster_id", u.ID))
	telemetry.IncLookup("resolved")
	telemetry.SetSpanSuccess(span)
	return u.ID, true
}
