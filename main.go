// Command kissbot is a Twitch chat bot answering !ask commands and mentions
// with a local LLM. It:
//   - Loads configuration and initializes structured logging.
//   - Optionally connects to Postgres for encrypted OAuth tokens and
//     persisted broadcaster ids.
//   - Runs the startup gate: every account token must be valid with its
//     critical scopes before anything listens; otherwise it exits 1.
//   - Serves /healthz, /readyz, /status and /metrics, refreshes stored
//     tokens and answers chat.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"syscall"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/onnwee/kissbot/bot"
	"github.com/onnwee/kissbot/config"
	"github.com/onnwee/kissbot/crypto"
	"github.com/onnwee/kissbot/db"
	"github.com/onnwee/kissbot/llm"
	"github.com/onnwee/kissbot/oauth"
	"github.com/onnwee/kissbot/scopes"
	"github.com/onnwee/kissbot/server"
	"github.com/onnwee/kissbot/shaping"
	"github.com/onnwee/kissbot/store"
	"github.com/onnwee/kissbot/telemetry"
	"github.com/onnwee/kissbot/twitchapi"
)

const version = "1.0.0"

func main() {
	// local dev convenience only; production relies on real env
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	setupLogger(cfg.Log)
	if err := cfg.ValidateBotReady(); err != nil {
		slog.Error("configuration incomplete", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("kissbot", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("kissbot stopped", slog.Any("err", err))
		stop()
		shutdown()
		os.Exit(1)
	}
	slog.Info("shutting down")
}

func setupLogger(c config.LogConfig) {
	lvl := slog.LevelInfo
	switch c.Level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	var handler slog.Handler
	if c.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", c.Format))
}

func run(ctx context.Context, cfg *config.Config) error {
	var (
		database *sqlx.DB
		tokens   *db.Tokens
	)
	if cfg.DBDsn != "" {
		var err error
		database, err = openDatabase(ctx, cfg.DBDsn)
		if err != nil {
			return err
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		var enc crypto.Encryptor
		if cfg.EncryptionKey != "" {
			aes, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
			if err != nil {
				return fmt.Errorf("encryption key: %w", err)
			}
			enc = aes
		}
		tokens = db.NewTokens(database, enc)
	}

	var oa *twitchapi.OAuth
	if cfg.Twitch.ClientSecret != "" {
		oa = twitchapi.NewOAuth(cfg.Twitch.ClientID, cfg.Twitch.ClientSecret, cfg.Twitch.RedirectURI, scopes.DefaultRegistry().AllScopes())
	}

	var (
		repo    oauth.TokenRepository
		refresh oauth.RefreshFunc
	)
	if tokens != nil {
		repo = tokens
		if oa != nil {
			refresh = oa.RefreshToken
		}
	}
	accounts, err := loadAccounts(ctx, cfg, repo, refresh)
	if err != nil {
		return err
	}

	var ids store.BroadcasterStore = store.NewMemoryStore()
	if database != nil {
		ids = store.NewPostgresStore(database, cfg.Instance)
	}

	helix := &twitchapi.Client{ClientID: cfg.Twitch.ClientID}
	gate := &bot.Gate{Validator: scopes.NewValidator(helix), Store: ids, ClientID: cfg.Twitch.ClientID}
	report, err := gate.Run(ctx, accounts, cfg.Twitch.Channels)
	if werr := report.Write(os.Stdout); werr != nil {
		slog.Warn("failed to print startup report", slog.Any("err", werr))
	}
	if err != nil {
		return fmt.Errorf("startup gate: %w", err)
	}

	gen := llm.NewClient(llm.Config{
		Endpoint:         cfg.LLM.Endpoint,
		Model:            cfg.LLM.Model,
		APIKey:           cfg.LLM.APIKey,
		SystemPrompt:     cfg.LLM.SystemPrompt,
		FailureThreshold: cfg.LLM.FailureThreshold,
		RecoveryTime:     cfg.LLM.RecoveryTime,
	})

	chatClient := twitch.NewClient(cfg.Twitch.BotUsername, "oauth:"+twitchapi.CleanToken(accounts[0].Token))
	if tokens != nil && oa != nil {
		startRefreshers(ctx, cfg, tokens, oa, accounts[0].Name, chatClient)
	}

	startPprof()

	opts := server.Options{
		Instance: cfg.Instance,
		Report:   report,
		DB:       database,
		Breaker:  gen.Breaker(),
		Auth:     server.AuthConfig{Username: cfg.Admin.Username, Password: cfg.Admin.Password, Token: cfg.Admin.Token},
	}
	if oa != nil && tokens != nil {
		opts.OAuth, opts.Tokens = oa, tokens
	}
	go func() {
		if err := server.Start(ctx, opts, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	if !cfg.LLM.Enabled || !report.Enabled("chat") {
		slog.Info("chat responder disabled", slog.Bool("llm_enabled", cfg.LLM.Enabled))
		<-ctx.Done()
		return nil
	}
	responder := &bot.Responder{
		BotName:   cfg.Twitch.BotUsername,
		Generator: gen,
		Shaper: shaping.NewShaper(shaping.DefaultProfiles(), func(kind shaping.Kind, oc shaping.Outcome) {
			telemetry.ObserveShape(string(kind), oc.DriftCut, oc.SentenceCut, oc.HardCut)
		}),
		Cooldown: cfg.Bot.Cooldown,
	}
	return responder.Run(ctx, chatClient, report.ChannelNames())
}

// openDatabase connects and migrates, falling back to the embedded schema
// when versioned migrations cannot run.
func openDatabase(ctx context.Context, dsn string) (*sqlx.DB, error) {
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database.DB); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded schema", slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("migrate db: %w", err)
		}
	}
	return database, nil
}

// loadAccounts resolves tokens for accounts stored in the database. With
// refresh set, a stored token that is expired or close to expiry is
// refreshed first so the gate never sees a stale access token.
func loadAccounts(ctx context.Context, cfg *config.Config, repo oauth.TokenRepository, refresh oauth.RefreshFunc) ([]bot.Account, error) {
	out := make([]bot.Account, 0, len(cfg.Twitch.Accounts))
	var errs []error
	for _, a := range cfg.Twitch.Accounts {
		acc := bot.Account{Name: a.Name, Login: a.Login, Token: a.Token}
		if a.FromDB {
			if repo == nil {
				errs = append(errs, fmt.Errorf("account %s: no database configured", a.Name))
				continue
			}
			if refresh != nil {
				r := &oauth.Refresher{Repo: repo, Account: a.Name, Window: cfg.Bot.RefreshWindow, Refresh: refresh}
				if _, err := r.Check(ctx); err != nil {
					slog.Warn("startup token refresh failed", slog.String("account", a.Name), slog.Any("err", err))
				}
			}
			t, err := repo.Load(ctx, a.Name)
			if err != nil {
				errs = append(errs, fmt.Errorf("account %s: %w", a.Name, err))
				continue
			}
			acc.Token = t.AccessToken
		}
		out = append(out, acc)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func startRefreshers(ctx context.Context, cfg *config.Config, tokens *db.Tokens, oa *twitchapi.OAuth, chatAccount string, chat *twitch.Client) {
	for _, a := range cfg.Twitch.Accounts {
		if !a.FromDB {
			continue
		}
		r := &oauth.Refresher{
			Repo:    tokens,
			Account: a.Name,
			Window:  cfg.Bot.RefreshWindow,
			Refresh: oa.RefreshToken,
			OnRefresh: func(account string, g *twitchapi.Grant) {
				if account == chatAccount {
					chat.SetIRCToken("oauth:" + g.AccessToken)
				}
			},
		}
		if _, err := oauth.StartRefresher(ctx, r, cfg.Bot.RefreshInterval); err != nil {
			slog.Error("token refresher not started", slog.String("account", a.Name), slog.Any("err", err))
		}
	}
}

func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	addr := os.Getenv("PPROF_ADDR")
	if addr == "" {
		addr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", addr))
		srv := &http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
