// Package bot wires token validation, broadcaster resolution and the chat
// responder together. Gate runs before anything listens on the network.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/kissbot/scopes"
	"github.com/onnwee/kissbot/store"
	"github.com/onnwee/kissbot/telemetry"
)

// ErrNoAccounts is returned by Gate.Run when no account is configured.
var ErrNoAccounts = errors.New("no twitch account configured")

// Account is a Twitch identity to validate at startup. The first account
// is the bot account used for channel lookups and chat.
type Account struct {
	Name  string
	Login string
	Token string
}

// Checker validates tokens and resolves channels. *scopes.Validator implements it.
type Checker interface {
	ValidateToken(ctx context.Context, token, clientID string) scopes.TokenAnalysis
	FetchBroadcasterID(ctx context.Context, channel, clientID, token string) (string, bool)
}

// Gate is the startup sequence: every token must be valid before any channel
// is resolved or any listener starts.
type Gate struct {
	Validator Checker
	// Store caches broadcaster ids; nil falls back to an in-memory store.
	Store    store.BroadcasterStore
	ClientID string
	Registry scopes.Registry
	// MaxLookups bounds concurrent channel lookups (default 4).
	MaxLookups int
}

// Run validates accounts concurrently, then resolves channels missing from
// the store. An invalid account aborts with errors wrapping
// scopes.ErrInvalidToken or scopes.ErrMissingCriticalScope, one per account.
// Unresolvable channels are skipped, never fatal.
func (g *Gate) Run(ctx context.Context, accounts []Account, channels []string) (*Report, error) {
	reg := g.Registry
	if len(reg) == 0 {
		reg = scopes.DefaultRegistry()
	}
	rep := &Report{StartedAt: time.Now().UTC(), Registry: reg, Channels: map[string]string{}}
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "gate"))
	telemetry.SetGateReady(false)

	if len(accounts) == 0 {
		rep.Failed = true
		return rep, ErrNoAccounts
	}

	rep.Accounts = make([]AccountReport, len(accounts))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, acc := range accounts {
		eg.Go(func() error {
			a := g.Validator.ValidateToken(egCtx, acc.Token, g.ClientID)
			rep.Accounts[i] = AccountReport{Name: acc.Name, Analysis: a}
			return nil
		})
	}
	_ = eg.Wait()

	var fatal []error
	for _, ar := range rep.Accounts {
		for _, w := range ar.Analysis.Warnings {
			logger.Warn("scope check", slog.String("account", ar.Name), slog.String("warning", w))
		}
		if err := ar.Analysis.Fatal(); err != nil {
			fatal = append(fatal, fmt.Errorf("account %s: %w", ar.Name, err))
		}
	}
	if len(fatal) > 0 {
		rep.Failed = true
		return rep, errors.Join(fatal...)
	}

	ids := g.Store
	if ids == nil {
		ids = store.NewMemoryStore()
	}
	if err := g.resolveChannels(ctx, rep, ids, accounts[0].Token, channels); err != nil {
		rep.Failed = true
		return rep, err
	}

	for _, r := range reg {
		telemetry.SetFeature(r.Key, rep.Enabled(r.Key))
	}
	telemetry.SetGateReady(true)
	logger.Info("startup gate passed",
		slog.Int("accounts", len(rep.Accounts)),
		slog.Int("channels", len(rep.Channels)),
		slog.Int("skipped", len(rep.Skipped)))
	return rep, nil
}

func (g *Gate) resolveChannels(ctx context.Context, rep *Report, ids store.BroadcasterStore, token string, channels []string) error {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "gate"))
	seen := map[string]bool{}
	var pending []string
	for _, ch := range channels {
		name := store.Normalize(ch)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		id, ok, err := ids.Get(ctx, name)
		if err != nil {
			logger.Warn("broadcaster store read failed", slog.String("channel", name), slog.Any("err", err))
		}
		if ok {
			rep.Channels[name] = id
			telemetry.IncLookup("cached")
			continue
		}
		pending = append(pending, name)
	}

	limit := g.MaxLookups
	if limit <= 0 {
		limit = 4
	}
	type result struct {
		channel, id string
		ok          bool
	}
	results := make([]result, len(pending))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, name := range pending {
		eg.Go(func() error {
			id, ok := g.Validator.FetchBroadcasterID(egCtx, name, g.ClientID, token)
			results[i] = result{channel: name, id: id, ok: ok}
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("resolve channels: %w", err)
	}

	for _, r := range results {
		if !r.ok {
			logger.Warn("channel skipped", slog.String("channel", r.channel), slog.Any("err", scopes.ErrChannelNotFound))
			rep.Skipped = append(rep.Skipped, r.channel)
			continue
		}
		rep.Channels[r.channel] = r.id
		if err := ids.Put(ctx, r.channel, r.id); err != nil {
			logger.Warn("broadcaster store write failed", slog.String("channel", r.channel), slog.Any("err", err))
		}
	}
	sort.Strings(rep.Skipped)
	return nil
}
