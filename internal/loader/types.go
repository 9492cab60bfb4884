// Package loader - Configuration Types
//
// Defines the YAML configuration structure for sensorlogd.
package loader

import (
	"github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/registry"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure for sensorlogd.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server"`

	// Storage configures the readings database.
	Storage StorageConfig `yaml:"storage"`

	// Limits configures per-client rate ceilings.
	Limits LimitsConfig `yaml:"limits"`

	// Stats configures the /stats summary endpoint.
	Stats StatsConfig `yaml:"stats"`

	// Log configures logging output.
	Log LogConfig `yaml:"log"`

	// Sensors overrides the built-in sensor registry when non-empty.
	Sensors []registry.Sensor `yaml:"sensors"`
}

// ServerConfig holds network settings.
type ServerConfig struct {
	// Host is the bind address.
	// Default: "0.0.0.0"
	Host string `yaml:"host"`

	// Port is the listen port.
	// Default: 5000
	Port int `yaml:"port"`

	// APIKey is the shared secret required in the X-API-Key header.
	// Empty disables authentication.
	APIKey string `yaml:"api_key"`

	// MaxRequestSize caps the /log request body in bytes.
	// Default: 10240
	MaxRequestSize int64 `yaml:"max_request_size"`

	// TLS configures transport layer security.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS settings.
type TLSConfig struct {
	// Enabled turns on HTTPS. With empty cert/key paths a self-signed
	// certificate is generated at startup.
	Enabled bool `yaml:"enabled"`

	// CertFile is the path to the PEM certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM private key.
	KeyFile string `yaml:"key_file"`
}

// StorageConfig holds database settings.
type StorageConfig struct {
	// Path is the database file path.
	// Default: "sensorlog.db"
	Path string `yaml:"path"`

	// DefaultLimit is the /readings row count when no limit is given.
	// Default: 100
	DefaultLimit int `yaml:"default_limit"`

	// MaxLimit is the ceiling the limit parameter is clamped to.
	// Default: 10000
	MaxLimit int `yaml:"max_limit"`
}

// LimitsConfig holds per-client-IP rate ceilings (requests per minute).
type LimitsConfig struct {
	// WritePerMinute applies to POST /log. Default: 30
	WritePerMinute int `yaml:"write_per_minute"`

	// ReadPerMinute applies to /readings and /stats. Default: 100
	ReadPerMinute int `yaml:"read_per_minute"`

	// ExportPerMinute applies to /readings/csv and /readings/parquet.
	// Default: 10
	ExportPerMinute int `yaml:"export_per_minute"`
}

// StatsConfig holds /stats settings.
type StatsConfig struct {
	// Window is the number of recent readings summarized per sensor.
	// Default: 1000
	Window int `yaml:"window"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `yaml:"level"`

	// JSON switches output to JSON format. Default: false
	JSON bool `yaml:"json"`
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           config.DefaultHost,
			Port:           config.DefaultPort,
			MaxRequestSize: config.DefaultMaxRequestSize,
		},
		Storage: StorageConfig{
			Path:         config.DefaultDatabasePath,
			DefaultLimit: config.DefaultReadingsLimit,
			MaxLimit:     config.MaxReadingsLimit,
		},
		Limits: LimitsConfig{
			WritePerMinute:  config.DefaultWriteRatePerMinute,
			ReadPerMinute:   config.DefaultReadRatePerMinute,
			ExportPerMinute: config.DefaultExportRatePerMinute,
		},
		Stats: StatsConfig{
			Window: config.DefaultStatsWindow,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
