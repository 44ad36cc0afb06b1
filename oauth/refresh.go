// Package oauth keeps stored Twitch account tokens fresh. A randomised gocron
// job checks each account and refreshes it when its expiry falls within a
// window.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/onnwee/kissbot/db"
	"github.com/onnwee/kissbot/telemetry"
	"github.com/onnwee/kissbot/twitchapi"
)

// TokenRepository is the subset of db.Tokens the refresher needs.
type TokenRepository interface {
	Load(ctx context.Context, account string) (db.Token, error)
	Save(ctx context.Context, account, access, refresh string, expiry time.Time, scopes []string) error
}

// RefreshFunc exchanges a refresh token for a new grant.
type RefreshFunc func(ctx context.Context, refreshToken string) (*twitchapi.Grant, error)

// Refresher refreshes one account.
type Refresher struct {
	Repo    TokenRepository
	Account string
	Window  time.Duration
	Refresh RefreshFunc
	// OnRefresh, if set, receives every persisted grant.
	OnRefresh func(account string, g *twitchapi.Grant)

	now func() time.Time
}

func (r *Refresher) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// Check refreshes the account if needed and reports whether it did.
// A missing row or refresh token is not an error.
func (r *Refresher) Check(ctx context.Context) (bool, error) {
	logger := slog.Default().With(slog.String("component", "oauth_refresh"), slog.String("account", r.Account))
	tok, err := r.Repo.Load(ctx, r.Account)
	if errors.Is(err, db.ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load token: %w", err)
	}
	if tok.RefreshToken == "" {
		return false, nil
	}
	if exp := tok.Expiry(); !exp.IsZero() && exp.Sub(r.clock()) > r.Window {
		return false, nil
	}

	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	g, err := r.Refresh(ctx2, tok.RefreshToken)
	cancel()
	if err != nil {
		telemetry.IncRefresh(r.Account, "error")
		return false, fmt.Errorf("refresh token: %w", err)
	}
	if g.RefreshToken == "" {
		g.RefreshToken = tok.RefreshToken
	}
	if len(g.Scopes) == 0 {
		g.Scopes = tok.Scopes()
	}
	if err := r.Repo.Save(ctx, r.Account, g.AccessToken, g.RefreshToken, g.Expiry, g.Scopes); err != nil {
		telemetry.IncRefresh(r.Account, "error")
		return false, fmt.Errorf("persist token: %w", err)
	}
	telemetry.IncRefresh(r.Account, "ok")
	logger.Info("token refreshed", slog.Time("expires_at", g.Expiry))
	if r.OnRefresh != nil {
		r.OnRefresh(r.Account, g)
	}
	return true, nil
}

// StartRefresher schedules r.Check every interval ±20% until ctx is done.
// The first check runs immediately.
func StartRefresher(ctx context.Context, r *Refresher, interval time.Duration) (gocron.Scheduler, error) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if r.Window <= 0 {
		r.Window = 15 * time.Minute
	}
	logger := slog.Default().With(slog.String("component", "oauth_refresh"), slog.String("account", r.Account))

	s, err := gocron.NewScheduler(gocron.WithLogger(logger), gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationRandomJob(interval*4/5, interval*6/5),
		gocron.NewTask(func() {
			if _, err := r.Check(ctx); err != nil {
				logger.Warn("token refresh failed", slog.Any("err", err))
			}
		}),
		gocron.WithName("oauth-refresh-"+r.Account),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule refresh job: %w", err)
	}
	s.Start()
	go func() {
		<-ctx.Done()
		if err := s.Shutdown(); err != nil {
			logger.Warn("scheduler shutdown", slog.Any("err", err))
		}
	}()
	return s, nil
}
