// Package loader handles configuration loading and validation.
//
// This package is responsible for:
//   - Loading the optional .env file
//   - Loading YAML configuration files
//   - Expanding environment variables inside the YAML
//   - Applying SENSORLOG_* environment overrides
package loader

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
)

var log = logging.Component("loader")

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file.
//
// Environment variables referenced in the file (${VAR} or $VAR) are expanded
// before parsing. Values start from DefaultConfig and are overridden by the
// file, then by SENSORLOG_* environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// LoadEnv loads the optional .env file and returns a Config built from
// defaults plus SENSORLOG_* environment variables. Used when no config
// file is present.
func LoadEnv() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, relying on system environment variables")
	}

	cfg := DefaultConfig()
	applyEnv(cfg)
	return cfg
}

// applyEnv applies SENSORLOG_* environment variable overrides.
//
// These mirror the flag surface: SENSORLOG_DB, SENSORLOG_HOST,
// SENSORLOG_PORT, SENSORLOG_API_KEY.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SENSORLOG_DB"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("SENSORLOG_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SENSORLOG_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Server.Port = port
		} else {
			log.Warn("ignoring invalid SENSORLOG_PORT", "value", v)
		}
	}
	if v := os.Getenv("SENSORLOG_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks the configuration for obvious mistakes.
//
// Every returned error satisfies errors.Is(err, errors.ErrInvalidConfig).
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.NewValidation("server.port", fmt.Sprintf("%d out of range", c.Server.Port))
	}
	if c.Storage.Path == "" {
		return errors.NewValidation("storage.path", "must not be empty")
	}
	if c.Storage.MaxLimit > 0 && c.Storage.DefaultLimit > c.Storage.MaxLimit {
		return errors.NewValidation("storage.default_limit",
			fmt.Sprintf("%d exceeds storage.max_limit %d", c.Storage.DefaultLimit, c.Storage.MaxLimit))
	}
	if c.Server.TLS.CertFile != "" && c.Server.TLS.KeyFile == "" ||
		c.Server.TLS.CertFile == "" && c.Server.TLS.KeyFile != "" {
		return errors.NewValidation("tls", "cert_file and key_file must be set together")
	}
	return nil
}

// ListenAddr returns the host:port pair for the HTTP listener.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
