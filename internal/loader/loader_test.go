package loader

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/xtxerr/sensorlog/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("expected default port 5000, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Path != "sensorlog.db" {
		t.Errorf("expected default db path, got %q", cfg.Storage.Path)
	}
	if cfg.Storage.MaxLimit != 10000 {
		t.Errorf("expected max limit 10000, got %d", cfg.Storage.MaxLimit)
	}
	if cfg.Limits.WritePerMinute != 30 {
		t.Errorf("expected write rate 30, got %d", cfg.Limits.WritePerMinute)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing config file")
	}

	// The caller distinguishes "no config file" (fall back to environment)
	// from a broken one, so the not-exist cause must survive wrapping.
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist in chain, got %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
  api_key: hunter2
storage:
  path: /tmp/test.db
  default_limit: 50
sensors:
  - field: garage_temp
    name: Garage Temperature
    unit: "°C"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.APIKey != "hunter2" {
		t.Errorf("expected api key override, got %q", cfg.Server.APIKey)
	}
	if cfg.Storage.Path != "/tmp/test.db" {
		t.Errorf("expected storage path override, got %q", cfg.Storage.Path)
	}
	if len(cfg.Sensors) != 1 || cfg.Sensors[0].Field != "garage_temp" {
		t.Errorf("expected sensors override, got %+v", cfg.Sensors)
	}

	// Unset fields keep defaults.
	if cfg.Limits.ReadPerMinute != 100 {
		t.Errorf("expected default read rate, got %d", cfg.Limits.ReadPerMinute)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_SENSORLOG_KEY", "secret-from-env")

	path := writeConfig(t, `
server:
  api_key: ${TEST_SENSORLOG_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.APIKey != "secret-from-env" {
		t.Errorf("expected env expansion, got %q", cfg.Server.APIKey)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SENSORLOG_PORT", "9999")
	t.Setenv("SENSORLOG_DB", "/tmp/env.db")
	t.Setenv("SENSORLOG_API_KEY", "env-key")

	path := writeConfig(t, "server:\n  port: 8080\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Environment wins over the file.
	if cfg.Server.Port != 9999 {
		t.Errorf("expected env port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Path != "/tmp/env.db" {
		t.Errorf("expected env db path, got %q", cfg.Storage.Path)
	}
	if cfg.Server.APIKey != "env-key" {
		t.Errorf("expected env api key, got %q", cfg.Server.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = -1 }, true},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, true},
		{"empty db path", func(c *Config) { c.Storage.Path = "" }, true},
		{"default above max", func(c *Config) { c.Storage.DefaultLimit = 20000 }, true},
		{"cert without key", func(c *Config) { c.Server.TLS.CertFile = "cert.pem" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.IsConfig(err) {
				t.Errorf("Validate() error %v is not a config error", err)
			}
		})
	}
}
