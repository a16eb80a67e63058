package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "FRONTEND_URL", "DB_PATH", "STORE_TIMEOUT", "SESSION_TTL", "MAX_USERS_PER_AGENT"} {
		// t.Setenv registers the restore; the unset makes the default apply.
		t.Setenv(key, "placeholder")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DBPath != "./data/livedesk.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.StoreTimeout != 5*time.Second {
		t.Errorf("StoreTimeout = %v, want 5s", cfg.StoreTimeout)
	}
	if cfg.SessionTTL != 60*time.Minute {
		t.Errorf("SessionTTL = %v, want 1h", cfg.SessionTTL)
	}
	if cfg.MaxUsersPerAgent != 2 {
		t.Errorf("MaxUsersPerAgent = %d, want 2", cfg.MaxUsersPerAgent)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("SESSION_TTL", "45m")
	t.Setenv("MAX_USERS_PER_AGENT", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.SessionTTL != 45*time.Minute {
		t.Errorf("SessionTTL = %v, want 45m", cfg.SessionTTL)
	}
	if cfg.MaxUsersPerAgent != 5 {
		t.Errorf("MaxUsersPerAgent = %d, want 5", cfg.MaxUsersPerAgent)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_USERS_PER_AGENT", "lots")
	t.Setenv("SESSION_TTL", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxUsersPerAgent != 2 {
		t.Errorf("MaxUsersPerAgent = %d, want fallback 2", cfg.MaxUsersPerAgent)
	}
	if cfg.SessionTTL != 60*time.Minute {
		t.Errorf("SessionTTL = %v, want fallback 1h", cfg.SessionTTL)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Port:             "8080",
			DBPath:           "./data/test.db",
			StoreTimeout:     5 * time.Second,
			SessionTTL:       time.Hour,
			MaxUsersPerAgent: 2,
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"zero store timeout", func(c *Config) { c.StoreTimeout = 0 }},
		{"zero session ttl", func(c *Config) { c.SessionTTL = 0 }},
		{"zero capacity", func(c *Config) { c.MaxUsersPerAgent = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		frontendURL string
		want        bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:3000", true},
		{"https://support.example.com", false},
	}
	for _, tt := range tests {
		cfg := &Config{FrontendURL: tt.frontendURL}
		if got := cfg.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment() with %q = %v, want %v", tt.frontendURL, got, tt.want)
		}
	}
}
