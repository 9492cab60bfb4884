// Package server provides the HTTP server for sensorlog.
//
// The server wires the access guard (shared secret, rate ceilings), the
// ingestion and query handlers, and the dashboard onto a gorilla/mux router,
// and owns listener lifecycle including TLS and graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/loader"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/registry"
	"github.com/xtxerr/sensorlog/internal/store"
)

var log = logging.Component("server")

// Server is the sensorlog HTTP server.
type Server struct {
	cfg *loader.Config
	reg *registry.Registry
	st  *store.Store

	httpServer *http.Server

	writeLimiter  *RateLimiter
	readLimiter   *RateLimiter
	exportLimiter *RateLimiter
}

// New creates a new server.
func New(cfg *loader.Config, reg *registry.Registry, st *store.Store) *Server {
	s := &Server{
		cfg:           cfg,
		reg:           reg,
		st:            st,
		writeLimiter:  NewRateLimiter(cfg.Limits.WritePerMinute, config.DefaultRateWindow),
		readLimiter:   NewRateLimiter(cfg.Limits.ReadPerMinute, config.DefaultRateWindow),
		exportLimiter: NewRateLimiter(cfg.Limits.ExportPerMinute, config.DefaultRateWindow),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// routes builds the router with the access guard applied.
//
// /health and / stay outside the shared-secret check: health probes and the
// dashboard page must work without credentials (the dashboard's own data
// fetches go through /readings and are guarded).
func (s *Server) routes() http.Handler {
	h := &handler{
		cfg: s.cfg,
		reg: s.reg,
		st:  s.st,
	}

	r := mux.NewRouter()

	r.Handle("/log",
		s.auth(s.limit(s.writeLimiter, http.HandlerFunc(h.handleLog)))).Methods(http.MethodPost)
	r.Handle("/readings",
		s.auth(s.limit(s.readLimiter, http.HandlerFunc(h.handleReadings)))).Methods(http.MethodGet)
	r.Handle("/readings/csv",
		s.auth(s.limit(s.exportLimiter, http.HandlerFunc(h.handleCSV)))).Methods(http.MethodGet)
	r.Handle("/readings/parquet",
		s.auth(s.limit(s.exportLimiter, http.HandlerFunc(h.handleParquet)))).Methods(http.MethodGet)
	r.Handle("/stats",
		s.auth(s.limit(s.readLimiter, http.HandlerFunc(h.handleStats)))).Methods(http.MethodGet)

	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/", h.handleDashboard).Methods(http.MethodGet)

	// The dashboard may be served from another origin during development.
	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "X-API-Key", "X-Request-ID"},
	})

	return s.requestContext(c.Handler(r))
}

// Run starts the server and blocks until ctx is cancelled or the listener
// fails. Shutdown drains in-flight requests up to the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	tlsConfig, err := s.tlsConfig()
	if err != nil {
		return fmt.Errorf("configure TLS: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if tlsConfig != nil {
			s.httpServer.TLSConfig = tlsConfig
			log.Info("listening with TLS", "address", s.httpServer.Addr)
			// Cert and key come from TLSConfig.
			if err := s.httpServer.ListenAndServeTLS("", ""); err != http.ErrServerClosed {
				return err
			}
			return nil
		}

		log.Info("listening without TLS", "address", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		log.Info("shutdown complete")
		return nil
	})

	return g.Wait()
}

// tlsConfig builds the TLS configuration, generating a self-signed
// certificate when TLS is enabled without cert/key paths.
func (s *Server) tlsConfig() (*tls.Config, error) {
	t := s.cfg.Server.TLS
	if !t.Enabled && t.CertFile == "" {
		return nil, nil
	}

	var cert tls.Certificate
	var err error

	if t.CertFile != "" && t.KeyFile != "" {
		cert, err = tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load TLS cert: %w", err)
		}
	} else {
		cert, err = selfSignedCertificate()
		if err != nil {
			return nil, fmt.Errorf("generate self-signed cert: %w", err)
		}
		log.Warn("using a generated self-signed certificate; clients must skip verification")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
