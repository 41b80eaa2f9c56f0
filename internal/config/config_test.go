package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, errLoad := Load("")
	if errLoad != nil {
		t.Fatalf("load defaults: %v", errLoad)
	}
	if cfg.AdminUser != "admin" {
		t.Fatalf("expected admin default, got %s", cfg.AdminUser)
	}
	if cfg.IdleTimeout() != time.Hour {
		t.Fatalf("expected 60m idle default, got %s", cfg.IdleTimeout())
	}
	if cfg.PersistentTimeout() != 7*24*time.Hour {
		t.Fatalf("expected 7d persistent default, got %s", cfg.PersistentTimeout())
	}
	if cfg.AbsoluteTimeout() != 30*24*time.Hour {
		t.Fatalf("expected 30d absolute default, got %s", cfg.AbsoluteTimeout())
	}
	if cfg.RateLimit != 25 {
		t.Fatalf("expected rate-limit 25, got %d", cfg.RateLimit)
	}
	if cfg.MaxDepth != 5 {
		t.Fatalf("expected max-depth 5, got %d", cfg.MaxDepth)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backweb.yml")
	body := "admin-user: boss\nserver-port: 9090\nsession-idle-timeout: 5\nrate-limit-dir: /tmp/rl\n"
	if errWrite := os.WriteFile(path, []byte(body), 0o644); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}
	t.Setenv("BACKWEB_ADMIN_USER", "root")

	cfg, errLoad := Load(path)
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if cfg.ServerPort != 9090 {
		t.Fatalf("expected file port 9090, got %d", cfg.ServerPort)
	}
	if cfg.SessionIdleTimeoutMinutes != 5 {
		t.Fatalf("expected file idle 5, got %d", cfg.SessionIdleTimeoutMinutes)
	}
	if cfg.AdminUser != "root" {
		t.Fatalf("environment must win over file, got %s", cfg.AdminUser)
	}
	if cfg.RateLimitDir != "/tmp/rl" {
		t.Fatalf("expected rate-limit-dir, got %s", cfg.RateLimitDir)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.ServerPort = 0 }},
		{"dsn", func(c *Config) { c.DatabaseURI = " " }},
		{"password bounds", func(c *Config) { c.PasswordMaxLength = c.PasswordMinLength - 1 }},
		{"score", func(c *Config) { c.PasswordScore = 9 }},
		{"depth", func(c *Config) { c.MaxDepth = 0 }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if errValidate := cfg.Validate(); errValidate == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestMissingFileIsNotAnError(t *testing.T) {
	if _, errLoad := Load(filepath.Join(t.TempDir(), "nope.yml")); errLoad != nil {
		t.Fatalf("missing file must fall back to defaults: %v", errLoad)
	}
}
