// sensorlogd is the sensor reading logger daemon.
//
// It receives HomeKit-style sensor submissions over HTTP and stores them in
// a local DuckDB database file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtxerr/sensorlog/internal/loader"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/registry"
	"github.com/xtxerr/sensorlog/internal/server"
	"github.com/xtxerr/sensorlog/internal/store"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	port := flag.Int("port", 0, "listen port (overrides config)")
	dbPath := flag.String("db", "", "database file path (overrides config)")
	apiKey := flag.String("api-key", "", "shared secret (or SENSORLOG_API_KEY env)")
	useTLS := flag.Bool("tls", false, "enable HTTPS (self-signed unless cert/key given)")
	tlsCert := flag.String("tls-cert", "", "TLS certificate file")
	tlsKey := flag.String("tls-key", "", "TLS key file")
	logJSON := flag.Bool("log-json", false, "log in JSON format")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logging.Init(level, *logJSON)

	log := logging.Component("main")
	log.Info("sensorlogd starting", "version", Version)

	// Load config
	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Info("no config file found, using defaults and environment")
			cfg = loader.LoadEnv()
		} else {
			log.Error("load config", "error", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}
	if *apiKey != "" {
		cfg.Server.APIKey = *apiKey
	}
	if *useTLS {
		cfg.Server.TLS.Enabled = true
	}
	if *tlsCert != "" {
		cfg.Server.TLS.CertFile = *tlsCert
	}
	if *tlsKey != "" {
		cfg.Server.TLS.KeyFile = *tlsKey
	}

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// =========================================================================
	// Sensor Registry
	// =========================================================================

	var reg *registry.Registry
	if len(cfg.Sensors) > 0 {
		reg, err = registry.New(cfg.Sensors)
		if err != nil {
			log.Error("invalid sensor configuration", "error", err)
			os.Exit(1)
		}
		log.Info("loaded sensor registry from config", "sensors", reg.Len())
	} else {
		reg = registry.Default()
		log.Info("using built-in sensor registry", "sensors", reg.Len())
	}

	// =========================================================================
	// Storage
	// =========================================================================

	log.Info("opening database", "path", cfg.Storage.Path)

	storeCfg := store.DefaultConfig()
	storeCfg.Path = cfg.Storage.Path
	storeCfg.DefaultLimit = cfg.Storage.DefaultLimit
	storeCfg.MaxLimit = cfg.Storage.MaxLimit

	st, err := store.Open(storeCfg, reg)
	if err != nil {
		log.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.EnsureSchema(context.Background()); err != nil {
		log.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	// =========================================================================
	// Server
	// =========================================================================

	srv := server.New(cfg, reg, st)

	scheme := "http"
	if cfg.Server.TLS.Enabled || cfg.Server.TLS.CertFile != "" {
		scheme = "https"
	}
	log.Info("dashboard", "url", fmt.Sprintf("%s://localhost:%d/", scheme, cfg.Server.Port))
	log.Info("log endpoint", "url", fmt.Sprintf("%s://<your-ip>:%d/log", scheme, cfg.Server.Port))
	log.Info("configured sensors", "fields", reg.Fields())
	log.Info("authentication", "enabled", cfg.Server.APIKey != "")
	log.Info("example",
		"curl", fmt.Sprintf("curl -X POST %s://localhost:%d/log -F 'outside_temp=18.5' -F 'outside_humidity=65'",
			scheme, cfg.Server.Port))

	// Signal handling and graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
