package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Duration is a time.Duration written as "1s", "250ms" in config files and
// environment variables.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the global ~/.matchchat/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session" env:"MATCHCHAT_SESSION"`

	PersonUUID   string `toml:"person_uuid"   env:"MATCHCHAT_PERSON_UUID"`
	SessionToken string `toml:"session_token" env:"MATCHCHAT_SESSION_TOKEN"`
	PushToken    string `toml:"push_token"    env:"MATCHCHAT_PUSH_TOKEN"`

	Chat     Chat     `toml:"chat"`
	API      API      `toml:"api"`
	Presence Presence `toml:"presence"`
	Inbox    Inbox    `toml:"inbox"`
	Outbox   Outbox   `toml:"outbox"`
}

// Chat configures the chat socket and its exchanges.
type Chat struct {
	URL            string   `toml:"url"             env:"MATCHCHAT_CHAT_URL"`
	Domain         string   `toml:"domain"          env:"MATCHCHAT_CHAT_DOMAIN"`
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
	HistoryTimeout Duration `toml:"history_timeout"`
	InboxTimeout   Duration `toml:"inbox_timeout"`
	PushTimeout    Duration `toml:"push_timeout"`
}

// API configures the REST endpoints used for enrichment and skipping.
type API struct {
	URL     string   `toml:"url"     env:"MATCHCHAT_API_URL"`
	Timeout Duration `toml:"timeout"`
}

// Presence configures subscription batching.
type Presence struct {
	Window Duration `toml:"window"`
}

// Inbox configures enrichment settling and paging.
type Inbox struct {
	SettleDelay    Duration `toml:"settle_delay"`
	SettleAttempts int      `toml:"settle_attempts"`
	PageSize       int      `toml:"page_size"`
}

// Outbox configures delivery retries and the queue drain.
type Outbox struct {
	Tries        int      `toml:"tries"`
	Timeout      Duration `toml:"timeout"`
	PollInterval Duration `toml:"poll_interval"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Chat: Chat{
			URL:            "wss://chat.duolicious.app",
			Domain:         "duolicious.app",
			InitialBackoff: Duration(time.Second),
			MaxBackoff:     Duration(30 * time.Second),
			HistoryTimeout: Duration(15 * time.Second),
			InboxTimeout:   Duration(30 * time.Second),
			PushTimeout:    Duration(10 * time.Second),
		},
		API: API{
			URL:     "https://api.duolicious.app",
			Timeout: Duration(10 * time.Second),
		},
		Presence: Presence{Window: Duration(200 * time.Millisecond)},
		Inbox: Inbox{
			SettleDelay:    Duration(time.Second),
			SettleAttempts: 3,
			PageSize:       50,
		},
		Outbox: Outbox{
			Tries:        3,
			Timeout:      Duration(10 * time.Second),
			PollInterval: Duration(2 * time.Second),
		},
	}
}

// Load reads config from the given path over the defaults. Returns an error
// if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve loads the file at path if present, falls back to defaults when it
// is missing, then applies environment overrides.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
