package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestLoadConfigOptional_EmptyPath tests loading when file path is empty
func TestLoadConfigOptional_EmptyPath(t *testing.T) {
	t.Setenv("PORT", "9999")

	cfg, err := LoadConfigOptional("")
	if err != nil {
		t.Fatalf("LoadConfigOptional with empty path should not error: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected non-nil config")
	}
	if cfg.Port != 9999 {
		t.Errorf("Expected Port=9999 from env, got %d", cfg.Port)
	}
}

func TestLoadConfigOptional_WhitespacePath(t *testing.T) {
	cfg, err := LoadConfigOptional("   ")
	if err != nil {
		t.Fatalf("LoadConfigOptional with whitespace path should not error: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected non-nil config")
	}
}

func TestLoadConfigOptional_FileNotExist(t *testing.T) {
	nonExistentPath := filepath.Join(t.TempDir(), "config-does-not-exist.yaml")

	cfg, err := LoadConfigOptional(nonExistentPath)
	if err != nil {
		t.Fatalf("LoadConfigOptional with non-existent file should not error: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected non-nil config")
	}
}

func TestLoadConfigOptional_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")

	invalidYAML := `
port: 8080
redisAddr: "localhost:6379"
  invalid indentation here
  more bad yaml
`
	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	_, err := LoadConfigOptional(configPath)
	if err == nil {
		t.Fatal("Expected error when loading invalid YAML, got nil")
	}
}

func TestLoadConfigOptional_ValidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "valid.yaml")

	validYAML := `
port: 8081
env: "prod"
storeBackend: "memory"
redisPassword: "secret"
jobRetentionSeconds: 120
workerConcurrency: 4
embeddedWorkers: false
sandbox:
  image: "registry.local/netdemo-sandbox:1.0"
  memoryMB: 256
  allowUnisolated: true
auth:
  provider: static
  token: "t0ken"
rateLimit:
  submit:
    requestsPerMinute: 5
    burstSize: 2
`
	if err := os.WriteFile(configPath, []byte(validYAML), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	cfg, err := LoadConfigOptional(configPath)
	if err != nil {
		t.Fatalf("LoadConfigOptional with valid config should not error: %v", err)
	}
	if cfg.Port != 8081 {
		t.Errorf("Expected Port=8081, got %d", cfg.Port)
	}
	if cfg.StoreBackend != "memory" {
		t.Errorf("Expected StoreBackend=memory, got %q", cfg.StoreBackend)
	}
	if cfg.RedisPassword != "secret" {
		t.Errorf("Expected RedisPassword='secret', got %q", cfg.RedisPassword)
	}
	if cfg.JobRetention() != 2*time.Minute {
		t.Errorf("Expected retention 2m, got %v", cfg.JobRetention())
	}
	if cfg.RunEmbeddedWorkers() {
		t.Errorf("Expected embedded workers disabled")
	}
	if cfg.Sandbox.Image != "registry.local/netdemo-sandbox:1.0" || cfg.Sandbox.MemoryMB != 256 {
		t.Errorf("unexpected sandbox config: %+v", cfg.Sandbox)
	}
	if !cfg.Sandbox.Unisolated() {
		t.Errorf("Expected allowUnisolated from file")
	}
	if cfg.Sandbox.PidsLimit != 100 || cfg.Sandbox.GraceSeconds != 5 {
		t.Errorf("sandbox defaults not applied: %+v", cfg.Sandbox)
	}
	if cfg.RateLimit.Submit.RequestsPerMinute != 5 || cfg.RateLimit.Submit.BurstSize != 2 {
		t.Errorf("unexpected rate limit: %+v", cfg.RateLimit.Submit)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfigOptional_Defaults(t *testing.T) {
	cfg, err := LoadConfigOptional("")
	if err != nil {
		t.Fatalf("LoadConfigOptional: %v", err)
	}
	if cfg.Port != 8080 || cfg.Env != "dev" || cfg.StoreBackend != "redis" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.JobRetentionSeconds != 3600 || cfg.WorkerConcurrency != 2 {
		t.Errorf("unexpected worker defaults: %+v", cfg)
	}
	if !cfg.Sandbox.IsEnabled() || cfg.Sandbox.CPUs != 1.0 || cfg.Sandbox.MemoryMB != 512 || cfg.Sandbox.ScratchMB != 100 {
		t.Errorf("unexpected sandbox defaults: %+v", cfg.Sandbox)
	}
	if !cfg.Sandbox.Unisolated() {
		t.Errorf("dev should allow unisolated fallback by default")
	}
	if cfg.Auth.Provider != "none" {
		t.Errorf("Expected auth provider none, got %q", cfg.Auth.Provider)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("dev defaults should validate: %v", err)
	}
}

func TestLoadConfigOptional_EnvOverrides(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	configYAML := `
port: 8080
redisAddr: "localhost:6379"
redisPassword: "file-password"
sandbox:
  image: "file-image"
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_ADDR", "env-redis:6380")
	t.Setenv("REDIS_PASSWORD", "env-password")
	t.Setenv("SANDBOX_IMAGE", "env-image")
	t.Setenv("SANDBOX_ENABLED", "false")
	t.Setenv("WORKER_CONCURRENCY", "7")
	t.Setenv("AUTH_TOKEN", "env-token")

	cfg, err := LoadConfigOptional(configPath)
	if err != nil {
		t.Fatalf("LoadConfigOptional should not error: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Expected Port=9090 from env, got %d", cfg.Port)
	}
	if cfg.RedisAddr != "env-redis:6380" {
		t.Errorf("Expected RedisAddr='env-redis:6380' from env, got %q", cfg.RedisAddr)
	}
	if cfg.RedisPassword != "env-password" {
		t.Errorf("Expected RedisPassword='env-password' from env, got %q", cfg.RedisPassword)
	}
	if cfg.Sandbox.Image != "env-image" || cfg.Sandbox.IsEnabled() {
		t.Errorf("sandbox env overrides not applied: %+v", cfg.Sandbox)
	}
	if cfg.WorkerConcurrency != 7 {
		t.Errorf("Expected WorkerConcurrency=7, got %d", cfg.WorkerConcurrency)
	}
	if cfg.Auth.Provider != "static" || cfg.Auth.Token != "env-token" {
		t.Errorf("Expected static auth from AUTH_TOKEN, got %+v", cfg.Auth)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad backend", func(c *Config) { c.StoreBackend = "etcd" }, "storeBackend"},
		{"none auth outside dev", func(c *Config) { c.Env = "prod" }, "auth.provider none"},
		{"static without token", func(c *Config) { c.Auth.Provider = "static" }, "auth.token"},
		{"short jwt secret", func(c *Config) { c.Auth.Provider = "jwt"; c.Auth.JWTSecret = "short" }, "jwtSecret"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "logFormat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfigOptional("")
			if err != nil {
				t.Fatalf("LoadConfigOptional: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
