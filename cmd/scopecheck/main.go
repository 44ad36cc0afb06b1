// Command scopecheck validates the configured Twitch tokens and prints a
// scope report per account. It exits 1 when any token is rejected or lacks
// a critical scope.
//
//	scopecheck [-token TOKEN]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/kissbot/config"
	"github.com/onnwee/kissbot/scopes"
	"github.com/onnwee/kissbot/twitchapi"
)

type namedToken struct {
	name, token string
}

func main() {
	_ = godotenv.Load()
	token := flag.String("token", "", "check this token instead of the configured accounts")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(2)
	}
	var tokens []namedToken
	if *token != "" {
		tokens = append(tokens, namedToken{"cli", *token})
	}
	for _, a := range cfg.Twitch.Accounts {
		if *token == "" && a.Token != "" {
			tokens = append(tokens, namedToken{a.Name, a.Token})
		}
	}
	if len(tokens) == 0 {
		fmt.Fprintln(os.Stderr, "no token to check: pass -token or configure twitch.accounts")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	v := scopes.NewValidator(&twitchapi.Client{ClientID: cfg.Twitch.ClientID})
	if !check(ctx, os.Stdout, v, cfg.Twitch.ClientID, tokens) {
		cancel()
		os.Exit(1)
	}
}

// check writes a report for every token and reports whether all of them can start the bot.
func check(ctx context.Context, w io.Writer, v *scopes.Validator, clientID string, tokens []namedToken) bool {
	ok := true
	for _, t := range tokens {
		a := v.ValidateToken(ctx, t.token, clientID)
		fmt.Fprintf(w, "== account %s ==\n", t.name)
		if err := scopes.WriteReport(w, a, v.Registry); err != nil {
			slog.Error("write report", slog.Any("err", err))
		}
		if a.Fatal() != nil {
			ok = false
		}
	}
	return ok
}
