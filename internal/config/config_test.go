package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"ENVIRONMENT", "SERVER_PORT", "STORE_BACKEND", "VERIFICATION_MAX_ATTEMPTS", "CALLING_VOICE"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Store.Backend != StoreScylla {
		t.Fatalf("expected default store backend %q, got %q", StoreScylla, cfg.Store.Backend)
	}
	if cfg.Verification.MaxAttempts != 5 {
		t.Fatalf("expected default max attempts 5, got %d", cfg.Verification.MaxAttempts)
	}
	if cfg.Verification.LockoutWindow != 15*time.Minute {
		t.Fatalf("expected default lockout window 15m, got %s", cfg.Verification.LockoutWindow)
	}
	if cfg.Calling.Voice != "nat" || cfg.Calling.Model != "enhanced" || cfg.Calling.MaxDuration != 300 {
		t.Fatalf("unexpected calling defaults: %+v", cfg.Calling)
	}
	if !cfg.IsDevelopment() {
		t.Fatalf("expected development environment by default, got %q", cfg.Environment)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	setEnvWithCleanup(t, "SERVER_PORT", "9090")
	setEnvWithCleanup(t, "STORE_BACKEND", " Postgres ")
	setEnvWithCleanup(t, "KAFKA_BROKERS", "k1:9092,k2:9092")
	setEnvWithCleanup(t, "VERIFICATION_LOCKOUT_WINDOW", "30m")
	setEnvWithCleanup(t, "PORTAL_DEMO_ENABLED", "true")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Store.Backend != StorePostgres {
		t.Fatalf("expected normalized backend %q, got %q", StorePostgres, cfg.Store.Backend)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("expected two kafka brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Verification.LockoutWindow != 30*time.Minute {
		t.Fatalf("expected lockout window 30m, got %s", cfg.Verification.LockoutWindow)
	}
	if !cfg.Portal.DemoEnabled {
		t.Fatalf("expected demo mode enabled")
	}
}

func TestLoad_ReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	unsetEnvWithCleanup(t, "TOKEN_ISSUER")
	if err := os.WriteFile(dir+"/.env", []byte("TOKEN_ISSUER=from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("TOKEN_ISSUER") })

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Token.Issuer != "from-dotenv" {
		t.Fatalf("expected issuer from .env, got %q", cfg.Token.Issuer)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment: "development",
			Store:       StoreConfig{Backend: StoreScylla},
			Events:      EventsConfig{Broker: BrokerKafka},
			Encryption:  EncryptionConfig{Key: "operator-key"},
			Token:       TokenConfig{Secret: "secret"},
			Hashing:     HashingConfig{Pepper: "pepper"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing encryption key", mutate: func(c *Config) { c.Encryption.Key = "" }, wantErr: "ENCRYPTION_KEY"},
		{name: "kms replaces local key", mutate: func(c *Config) {
			c.Encryption.Key = ""
			c.KMS = KMSConfig{Enabled: true, KeyID: "alias/portal"}
		}},
		{name: "kms without key id", mutate: func(c *Config) { c.KMS.Enabled = true }, wantErr: "KMS_KEY_ID"},
		{name: "missing token secret", mutate: func(c *Config) { c.Token.Secret = "" }, wantErr: "TOKEN_SECRET"},
		{name: "missing pepper", mutate: func(c *Config) { c.Hashing.Pepper = "" }, wantErr: "HASHING_PEPPER"},
		{name: "demo in production", mutate: func(c *Config) {
			c.Environment = "production"
			c.Operator.InternalAPIKey = "k"
			c.Portal.DemoEnabled = true
		}, wantErr: "PORTAL_DEMO_ENABLED"},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "mysql" }, wantErr: "STORE_BACKEND"},
		{name: "unknown broker", mutate: func(c *Config) { c.Events.Broker = "nats" }, wantErr: "EVENTS_BROKER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
