package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func missingFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "absent.yaml")
}

func TestLoadDefaultsFromEnv(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "cid")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:abc")
	t.Setenv("TWITCH_BOT_USERNAME", "kissbot")
	t.Setenv("TWITCH_CHANNELS", "#El_Serda, other ,")

	cfg, err := LoadFile(missingFile(t), false)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Instance != "default" || cfg.HTTPAddr != ":8080" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Twitch.Channels, []string{"el_serda", "other"}) {
		t.Errorf("Channels = %v", cfg.Twitch.Channels)
	}
	if len(cfg.Twitch.Accounts) != 1 || cfg.Twitch.Accounts[0].Token != "oauth:abc" || cfg.Twitch.Accounts[0].Login != "kissbot" {
		t.Errorf("Accounts = %+v, want one synthesized bot account", cfg.Twitch.Accounts)
	}
	if cfg.Bot.Cooldown != 10*time.Second || cfg.LLM.RecoveryTime != 5*time.Minute {
		t.Errorf("duration defaults = %s %s", cfg.Bot.Cooldown, cfg.LLM.RecoveryTime)
	}
	if err := cfg.ValidateBotReady(); err != nil {
		t.Errorf("ValidateBotReady() = %v", err)
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
instance: stream-a
twitch:
  client_id: file-cid
  bot_username: kissbot
  channels: [el_serda]
  accounts:
    - name: bot
      login: kissbot
      token: bot-token
    - name: broadcaster
      login: el_serda
      from_db: true
llm:
  model: qwen2.5-7b
  failure_threshold: 5
log:
  level: DEBUG
  format: json
db_dsn: postgres://u:p@localhost/db
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TWITCH_CLIENT_ID", "env-cid")
	t.Setenv("BOT_COOLDOWN", "3s")

	cfg, err := LoadFile(path, true)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Twitch.ClientID != "env-cid" {
		t.Errorf("ClientID = %s, env should override file", cfg.Twitch.ClientID)
	}
	if cfg.Instance != "stream-a" || cfg.LLM.Model != "qwen2.5-7b" || cfg.LLM.FailureThreshold != 5 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if len(cfg.Twitch.Accounts) != 2 || !cfg.Twitch.Accounts[1].FromDB {
		t.Errorf("Accounts = %+v", cfg.Twitch.Accounts)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Bot.Cooldown != 3*time.Second {
		t.Errorf("Cooldown = %s", cfg.Bot.Cooldown)
	}
	if err := cfg.ValidateBotReady(); err != nil {
		t.Errorf("ValidateBotReady() = %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		yaml     string
		required bool
		contains string
	}{
		{name: "missing client id", contains: "ClientID"},
		{name: "bad log level", env: map[string]string{"TWITCH_CLIENT_ID": "cid", "LOG_LEVEL": "loud"}, contains: "Level"},
		{name: "bad endpoint", env: map[string]string{"TWITCH_CLIENT_ID": "cid", "LLM_ENDPOINT": "not a url"}, contains: "Endpoint"},
		{name: "required file missing", env: map[string]string{"TWITCH_CLIENT_ID": "cid"}, required: true, contains: "absent.yaml"},
		{name: "account without name", yaml: "twitch:\n  client_id: cid\n  accounts:\n    - token: x\n", contains: "Name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := missingFile(t)
			if tt.yaml != "" {
				path = filepath.Join(t.TempDir(), "config.yaml")
				if err := os.WriteFile(path, []byte(tt.yaml), 0o600); err != nil {
					t.Fatal(err)
				}
			}
			_, err := LoadFile(path, tt.required)
			if err == nil {
				t.Fatal("LoadFile() expected error")
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("error %v does not wrap ErrConfiguration", err)
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("error %q does not mention %q", err, tt.contains)
			}
		})
	}
}

func TestValidateBotReady(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "ready",
			cfg: Config{Twitch: TwitchConfig{
				BotUsername: "kissbot", Channels: []string{"c"},
				Accounts: []Account{{Name: "bot", Token: "t"}},
			}},
		},
		{
			name:    "no accounts",
			cfg:     Config{Twitch: TwitchConfig{BotUsername: "kissbot", Channels: []string{"c"}}},
			wantErr: "no twitch account",
		},
		{
			name: "db account without dsn",
			cfg: Config{Twitch: TwitchConfig{
				BotUsername: "kissbot", Channels: []string{"c"},
				Accounts: []Account{{Name: "bot", FromDB: true}},
			}},
			wantErr: "DB_DSN is empty",
		},
		{
			name: "no channels",
			cfg: Config{Twitch: TwitchConfig{
				BotUsername: "kissbot",
				Accounts:    []Account{{Name: "bot", Token: "t"}},
			}},
			wantErr: "no channel",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.ValidateBotReady()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateBotReady() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateBotReady() = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
