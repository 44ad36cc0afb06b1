// Package config loads the bot configuration from defaults, an optional YAML
// file and environment variables, then validates it.
// For credentials needed only by the running bot, use ValidateBotReady.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrConfiguration wraps every load or validation failure.
var ErrConfiguration = errors.New("configuration error")

// Account is one Twitch identity whose token must pass the startup gate.
type Account struct {
	Name  string `mapstructure:"name"  validate:"required"`
	Login string `mapstructure:"login"`
	Token string `mapstructure:"token"`
	// FromDB loads the token from the encrypted oauth_tokens table instead.
	FromDB bool `mapstructure:"from_db"`
}

type TwitchConfig struct {
	ClientID     string    `mapstructure:"client_id"     validate:"required"`
	ClientSecret string    `mapstructure:"client_secret"`
	RedirectURI  string    `mapstructure:"redirect_uri"  validate:"omitempty,url"`
	BotUsername  string    `mapstructure:"bot_username"`
	OAuthToken   string    `mapstructure:"oauth_token"`
	Channels     []string  `mapstructure:"channels"`
	Accounts     []Account `mapstructure:"accounts"      validate:"dive"`
}

type LLMConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Endpoint         string        `mapstructure:"endpoint"          validate:"omitempty,url"`
	Model            string        `mapstructure:"model"`
	APIKey           string        `mapstructure:"api_key"`
	SystemPrompt     string        `mapstructure:"system_prompt"`
	FailureThreshold int           `mapstructure:"failure_threshold" validate:"min=1"`
	RecoveryTime     time.Duration `mapstructure:"recovery_time"     validate:"min=1s"`
}

type BotConfig struct {
	Cooldown        time.Duration `mapstructure:"cooldown"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval" validate:"min=1m"`
	RefreshWindow   time.Duration `mapstructure:"refresh_window"   validate:"min=1m"`
}

// AdminConfig protects the OAuth endpoints. Empty disables auth.
type AdminConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Token    string `mapstructure:"token"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type Config struct {
	Instance      string       `mapstructure:"instance" validate:"required"`
	HTTPAddr      string       `mapstructure:"http_addr"`
	DBDsn         string       `mapstructure:"db_dsn"`
	EncryptionKey string       `mapstructure:"encryption_key"`
	Twitch        TwitchConfig `mapstructure:"twitch"`
	LLM           LLMConfig    `mapstructure:"llm"`
	Bot           BotConfig    `mapstructure:"bot"`
	Admin         AdminConfig  `mapstructure:"admin"`
	Log           LogConfig    `mapstructure:"log"`
}

// env names bound to config keys.
var envBindings = map[string]string{
	"instance":             "INSTANCE_NAME",
	"http_addr":            "HTTP_ADDR",
	"db_dsn":               "DB_DSN",
	"encryption_key":       "ENCRYPTION_KEY",
	"twitch.client_id":     "TWITCH_CLIENT_ID",
	"twitch.client_secret": "TWITCH_CLIENT_SECRET",
	"twitch.redirect_uri":  "TWITCH_REDIRECT_URI",
	"twitch.bot_username":  "TWITCH_BOT_USERNAME",
	"twitch.oauth_token":   "TWITCH_OAUTH_TOKEN",
	"twitch.channels":      "TWITCH_CHANNELS",
	"llm.enabled":          "LLM_ENABLED",
	"llm.endpoint":         "LLM_ENDPOINT",
	"llm.model":            "LLM_MODEL",
	"llm.api_key":          "LLM_API_KEY",
	"llm.system_prompt":    "LLM_SYSTEM_PROMPT",
	"bot.cooldown":         "BOT_COOLDOWN",
	"admin.username":       "ADMIN_USERNAME",
	"admin.password":       "ADMIN_PASSWORD",
	"admin.token":          "ADMIN_TOKEN",
	"log.level":            "LOG_LEVEL",
	"log.format":           "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("instance", "default")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("twitch.redirect_uri", "http://localhost:3000")
	v.SetDefault("llm.enabled", true)
	v.SetDefault("llm.endpoint", "http://127.0.0.1:1234/v1")
	v.SetDefault("llm.model", "mistralai/mistral-7b-instruct-v0.3")
	v.SetDefault("llm.system_prompt", "Tu es un bot Twitch sympa. Réponds en français, directement, sans te présenter.")
	v.SetDefault("llm.failure_threshold", 3)
	v.SetDefault("llm.recovery_time", 5*time.Minute)
	v.SetDefault("bot.cooldown", 10*time.Second)
	v.SetDefault("bot.refresh_interval", 5*time.Minute)
	v.SetDefault("bot.refresh_window", 15*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads CONFIG_FILE (default ./config.yaml, optional) and the environment.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_FILE")
	explicit := path != ""
	if !explicit {
		path = "config.yaml"
	}
	return LoadFile(path, explicit)
}

// LoadFile loads configuration from path. A missing file is an error only
// when required is true. Environment variables override file values.
func LoadFile(path string, required bool) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("%w: bind %s: %w", ErrConfiguration, env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if required || !missing {
			return nil, fmt.Errorf("%w: read %s: %w", ErrConfiguration, path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %w", ErrConfiguration, err)
	}
	cfg.normalize()
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	var channels []string
	for _, ch := range c.Twitch.Channels {
		for _, part := range strings.Split(ch, ",") {
			part = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(part), "#"))
			if part != "" {
				channels = append(channels, part)
			}
		}
	}
	c.Twitch.Channels = channels
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)

	if len(c.Twitch.Accounts) == 0 && c.Twitch.OAuthToken != "" {
		c.Twitch.Accounts = []Account{{Name: "bot", Login: c.Twitch.BotUsername, Token: c.Twitch.OAuthToken}}
	}
}

// ValidateBotReady checks the fields the running bot needs beyond Load's validation.
func (c *Config) ValidateBotReady() error {
	var errs []error
	if len(c.Twitch.Accounts) == 0 {
		errs = append(errs, errors.New("no twitch account: set TWITCH_OAUTH_TOKEN or twitch.accounts"))
	}
	for _, a := range c.Twitch.Accounts {
		if a.Token == "" && !a.FromDB {
			errs = append(errs, fmt.Errorf("account %s has no token", a.Name))
		}
		if a.FromDB && c.DBDsn == "" {
			errs = append(errs, fmt.Errorf("account %s is stored in the database but DB_DSN is empty", a.Name))
		}
	}
	if len(c.Twitch.Channels) == 0 {
		errs = append(errs, errors.New("no channel: set TWITCH_CHANNELS"))
	}
	if c.Twitch.BotUsername == "" {
		errs = append(errs, errors.New("missing TWITCH_BOT_USERNAME"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(errs...))
	}
	return nil
}
