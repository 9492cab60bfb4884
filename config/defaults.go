// Package config provides configuration defaults and utilities
// for the sensorlog application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or environment variables.
package config

import "time"

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultHost is the default bind address.
	// Intentional 0.0.0.0 so phones and hubs on the LAN can reach the server.
	// Override via config: server.host or SENSORLOG_HOST
	DefaultHost = "0.0.0.0"

	// DefaultPort is the default listen port.
	// Override via config: server.port, SENSORLOG_PORT, or -port
	DefaultPort = 5000

	// DefaultMaxRequestSize caps the /log request body to prevent abuse.
	// A full submission for every sensor fits comfortably in 10 KiB.
	// Override via config: server.max_request_size
	DefaultMaxRequestSize = 10 * 1024
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDatabasePath is the default database file location.
	// Override via config: storage.path, SENSORLOG_DB, or -db
	DefaultDatabasePath = "sensorlog.db"

	// DefaultQueryTimeout bounds a single database operation.
	// Override via config: storage.query_timeout_sec
	DefaultQueryTimeout = 30 * time.Second

	// DefaultReadingsLimit is the number of rows /readings returns when no
	// limit parameter is given (or the parameter is not a positive number).
	// Override via config: storage.default_limit
	DefaultReadingsLimit = 100

	// MaxReadingsLimit is the hard ceiling on the /readings limit parameter.
	// Requests above this are clamped, bounding response size.
	// Override via config: storage.max_limit
	MaxReadingsLimit = 10000

	// DefaultExportBatchSize is the number of rows fetched per round trip
	// while streaming CSV or Parquet exports.
	DefaultExportBatchSize = 1000
)

// =============================================================================
// Rate Limiting Defaults
// =============================================================================

const (
	// DefaultWriteRatePerMinute is the max /log requests per client IP per minute.
	// Override via config: limits.write_per_minute
	DefaultWriteRatePerMinute = 30

	// DefaultReadRatePerMinute is the max /readings and /stats requests
	// per client IP per minute.
	// Override via config: limits.read_per_minute
	DefaultReadRatePerMinute = 100

	// DefaultExportRatePerMinute is the max export requests per client IP
	// per minute. Exports walk the whole table, so the ceiling is low.
	// Override via config: limits.export_per_minute
	DefaultExportRatePerMinute = 10

	// DefaultRateWindow is the fixed window over which request counts apply.
	DefaultRateWindow = time.Minute
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultShutdownTimeout is how long to wait for in-flight requests
	// during graceful shutdown before forcing the listener closed.
	DefaultShutdownTimeout = 10 * time.Second
)

// =============================================================================
// Stats Defaults
// =============================================================================

const (
	// DefaultStatsWindow is the number of recent readings the /stats
	// endpoint summarizes per sensor.
	// Override via config: stats.window
	DefaultStatsWindow = 1000

	// DefaultSketchAccuracy is the DDSketch relative accuracy used for
	// percentile summaries.
	DefaultSketchAccuracy = 0.01
)
