package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
)

// =============================================================================
// Rate Limiter
// =============================================================================

// RateLimiter implements a fixed-window request ceiling per client IP.
//
// Every request counts against the window. Requests beyond the limit are
// rejected immediately; nothing is queued or retried. Expired entries are
// pruned opportunistically on access, so no background goroutine runs.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
	limit   int           // max requests per window
	window  time.Duration // time window for counting requests
}

type rateLimitEntry struct {
	count     int       // requests seen in the current window
	resetTime time.Time // when this window expires
}

// NewRateLimiter creates a new rate limiter.
//
// Parameters:
//   - limit: maximum requests per window (0 disables limiting)
//   - window: time window for counting requests (e.g., 1 minute)
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*rateLimitEntry),
		limit:   limit,
		window:  window,
	}
}

// Allow records a request for the IP and reports whether it is within the
// ceiling.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	// Keep the map bounded without a cleanup goroutine.
	if len(rl.entries) > 1024 {
		rl.prune(now)
	}

	entry, ok := rl.entries[ip]
	if !ok || now.After(entry.resetTime) {
		rl.entries[ip] = &rateLimitEntry{
			count:     1,
			resetTime: now.Add(rl.window),
		}
		return true
	}

	entry.count++
	return entry.count <= rl.limit
}

// Count returns the current request count for an IP (for testing/monitoring).
func (rl *RateLimiter) Count(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.entries[ip]
	if !ok || time.Now().After(entry.resetTime) {
		return 0
	}
	return entry.count
}

// prune removes expired windows. Caller must hold the lock.
func (rl *RateLimiter) prune(now time.Time) {
	for ip, entry := range rl.entries {
		if now.After(entry.resetTime) {
			delete(rl.entries, ip)
		}
	}
}

// =============================================================================
// Middleware
// =============================================================================

// requestContext attaches a request ID and the client address to the request
// context for logging, and echoes the ID back in the response headers.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := getOrGenerateRequestID(r)

		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		ctx = logging.ContextWithRemoteAddr(ctx, extractIP(r.RemoteAddr))

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// getOrGenerateRequestID extracts the request ID from headers or generates
// a new one (16 hex characters).
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}

	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based ID if random generation fails
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// auth enforces the shared secret when one is configured.
//
// The secret is presented via the X-API-Key header; the api_key query
// parameter is also accepted for clients that cannot set headers (iOS
// Shortcuts). Missing or mismatched secrets are rejected before any handler
// or storage access runs.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := s.cfg.Server.APIKey
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		provided := r.Header.Get("X-API-Key")
		if provided == "" {
			provided = r.URL.Query().Get("api_key")
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			logging.WithContext(r.Context()).Warn("unauthorized access attempt")
			respondError(w, r, errors.ErrUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// limit applies a rate limiter to the wrapped handler.
func (s *Server) limit(rl *RateLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r.RemoteAddr)

		if !rl.Allow(ip) {
			logging.WithContext(r.Context()).Warn("rate limit exceeded", "path", r.URL.Path)
			respondError(w, r, errors.ErrRateLimited)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractIP extracts the IP address from a remote address string.
func extractIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
