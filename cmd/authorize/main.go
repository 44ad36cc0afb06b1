// Command authorize prints the Twitch authorization URL requesting every
// scope the bot can use, and with -code exchanges the returned code and
// stores the encrypted tokens for an account.
//
//	authorize [-state STATE]
//	authorize -code CODE [-account bot]
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/kissbot/config"
	"github.com/onnwee/kissbot/crypto"
	"github.com/onnwee/kissbot/db"
	"github.com/onnwee/kissbot/scopes"
	"github.com/onnwee/kissbot/twitchapi"
)

type exchanger interface {
	ExchangeAuthCode(ctx context.Context, code string) (*twitchapi.Grant, error)
}

type saver interface {
	Save(ctx context.Context, account, access, refresh string, expiry time.Time, scopes []string) error
}

func main() {
	_ = godotenv.Load()
	code := flag.String("code", "", "authorization code returned to the redirect URI")
	account := flag.String("account", "bot", "account name the tokens are stored under")
	state := flag.String("state", "", "state parameter (random when empty)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if cfg.Twitch.ClientSecret == "" {
		slog.Error("TWITCH_CLIENT_SECRET is required")
		os.Exit(1)
	}
	oa := twitchapi.NewOAuth(cfg.Twitch.ClientID, cfg.Twitch.ClientSecret, cfg.Twitch.RedirectURI, scopes.DefaultRegistry().AllScopes())

	if *code == "" {
		if err := printURL(os.Stdout, oa, *state); err != nil {
			slog.Error("build authorize url", slog.Any("err", err))
			os.Exit(1)
		}
		return
	}

	if cfg.DBDsn == "" {
		slog.Error("DB_DSN is required to store tokens")
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	database, err := db.Connect(ctx, cfg.DBDsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("err", err))
		os.Exit(1)
	}
	defer database.Close()
	if err := db.Migrate(ctx, database); err != nil {
		slog.Error("failed to migrate database", slog.Any("err", err))
		os.Exit(1)
	}
	var enc crypto.Encryptor
	if cfg.EncryptionKey != "" {
		if enc, err = crypto.NewAESEncryptor(cfg.EncryptionKey); err != nil {
			slog.Error("invalid ENCRYPTION_KEY", slog.Any("err", err))
			os.Exit(1)
		}
	}
	if err := exchange(ctx, os.Stdout, oa, db.NewTokens(database, enc), *account, *code); err != nil {
		slog.Error("authorization failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func printURL(w io.Writer, oa *twitchapi.OAuth, state string) error {
	if state == "" {
		b := make([]byte, 16)
		if _, err := rand.Read(b); err != nil {
			return err
		}
		state = hex.EncodeToString(b)
	}
	u, err := oa.AuthorizeURL(state)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Open this URL while logged in as the account to authorize:")
	fmt.Fprintln(w, u)
	fmt.Fprintf(w, "Then run: authorize -code <code> -account <name>  (state %s)\n", state)
	return nil
}

func exchange(ctx context.Context, w io.Writer, oa exchanger, store saver, account, code string) error {
	g, err := oa.ExchangeAuthCode(ctx, code)
	if err != nil {
		return err
	}
	if err := store.Save(ctx, account, g.AccessToken, g.RefreshToken, g.Expiry, g.Scopes); err != nil {
		return err
	}
	fmt.Fprintf(w, "stored tokens for %s (scopes: %s, expires %s)\n", account, strings.Join(g.Scopes, " "), g.Expiry.Format(time.RFC3339))
	return nil
}
