package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Presence.Window = Duration(500 * time.Millisecond)
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Presence.Window.Std() != 500*time.Millisecond {
		t.Errorf("Presence.Window = %v, want 500ms", loaded.Presence.Window.Std())
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "[chat]\nurl = \"ws://localhost:5443\"\nmax_backoff = \"1m\"\n\n[inbox]\nsettle_attempts = 5\n"
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Chat.URL != "ws://localhost:5443" {
		t.Errorf("Chat.URL = %q", cfg.Chat.URL)
	}
	if cfg.Chat.MaxBackoff.Std() != time.Minute {
		t.Errorf("Chat.MaxBackoff = %v, want 1m", cfg.Chat.MaxBackoff.Std())
	}
	if cfg.Chat.InitialBackoff.Std() != time.Second {
		t.Errorf("Chat.InitialBackoff = %v, want default 1s", cfg.Chat.InitialBackoff.Std())
	}
	if cfg.Inbox.SettleAttempts != 5 {
		t.Errorf("Inbox.SettleAttempts = %d, want 5", cfg.Inbox.SettleAttempts)
	}
	if cfg.Chat.Domain != "duolicious.app" {
		t.Errorf("Chat.Domain = %q, want default", cfg.Chat.Domain)
	}
}

func TestLoadMalformedDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[api]\ntimeout = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for malformed duration")
	}
}

func TestResolveMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Resolve(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Outbox.Tries != 3 {
		t.Errorf("Outbox.Tries = %d, want 3", cfg.Outbox.Tries)
	}
}

func TestResolveEnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(path, &Config{PersonUUID: "from-file", Chat: Chat{URL: "ws://file"}}); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MATCHCHAT_PERSON_UUID", "from-env")
	t.Setenv("MATCHCHAT_SESSION_TOKEN", "secret")
	t.Setenv("MATCHCHAT_API_URL", "http://localhost:5000")

	cfg, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	tests := []struct {
		name, got, want string
	}{
		{"person uuid", cfg.PersonUUID, "from-env"},
		{"session token", cfg.SessionToken, "secret"},
		{"api url", cfg.API.URL, "http://localhost:5000"},
		{"chat url", cfg.Chat.URL, "ws://file"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
