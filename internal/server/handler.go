package server

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/loader"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/measure"
	"github.com/xtxerr/sensorlog/internal/registry"
	"github.com/xtxerr/sensorlog/internal/stats"
	"github.com/xtxerr/sensorlog/internal/store"
)

// handler holds the HTTP endpoint implementations.
type handler struct {
	cfg *loader.Config
	reg *registry.Registry
	st  *store.Store
}

// =============================================================================
// Response Helpers
// =============================================================================

// respondJSON sends a JSON response with the specified status code.
func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Error("failed to encode JSON response", "error", err)
		}
	}
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// respondError maps the error to an HTTP status and sends the error body.
func respondError(w http.ResponseWriter, r *http.Request, err error, details ...map[string]string) {
	resp := errorResponse{Status: "error", Message: err.Error()}
	if len(details) > 0 {
		resp.Details = details[0]
	}

	status := errors.ErrorToStatus(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}

	respondJSON(w, status, resp)
}

// =============================================================================
// Ingestion: POST /log
// =============================================================================

// logResponse is the success body for POST /log.
type logResponse struct {
	Status   string             `json:"status"`
	ID       int64              `json:"id"`
	Data     map[string]float64 `json:"data"`
	Warnings map[string]string  `json:"warnings,omitempty"`
}

// handleLog accepts a sensor submission as form fields or a JSON object.
//
// Recognized fields are parsed individually: a field that fails to parse
// becomes a warning, not a request failure, as long as at least one field
// yields a value. Exactly one row is inserted per successful request.
func (h *handler) handleLog(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Server.MaxRequestSize)

	data, err := decodeSubmission(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if len(data) == 0 {
		respondError(w, r, errors.ErrNoData)
		return
	}

	values := make(map[string]float64)
	warnings := make(map[string]string)

	for _, field := range h.reg.Fields() {
		raw, present := data[field]
		if !present {
			continue
		}

		v, err := measure.Parse(raw)
		switch {
		case err == nil:
			values[field] = v
		case errors.Is(err, errors.ErrEmptyValue):
			// Blank submission for this field: treat as absent, not as zero.
		default:
			warnings[field] = err.Error()
		}
	}

	if len(values) == 0 {
		if len(warnings) > 0 {
			respondError(w, r, errors.ErrNoRecognizedData, warnings)
		} else {
			respondError(w, r, errors.ErrNoRecognizedData)
		}
		return
	}

	id, err := h.st.Insert(r.Context(), time.Now().UTC(), values)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.WithContext(r.Context()).Info("logged reading", "id", id,
		"fields", len(values), "warnings", len(warnings))

	respondJSON(w, http.StatusOK, logResponse{
		Status:   "success",
		ID:       id,
		Data:     values,
		Warnings: warnings,
	})
}

// decodeSubmission reads the request body as a JSON object or form fields
// into a uniform map.
func decodeSubmission(r *http.Request) (map[string]any, error) {
	ct := r.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}

	if ct == "application/json" {
		var data map[string]any
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			if isBodyTooLarge(err) {
				return nil, errors.ErrRequestTooLarge
			}
			return nil, errors.Wrap(errors.ErrMalformedBody, err.Error())
		}
		return data, nil
	}

	if err := r.ParseForm(); err != nil {
		if isBodyTooLarge(err) {
			return nil, errors.ErrRequestTooLarge
		}
		return nil, errors.Wrap(errors.ErrMalformedBody, err.Error())
	}

	data := make(map[string]any, len(r.PostForm))
	for key, vals := range r.PostForm {
		if len(vals) > 0 {
			data[key] = vals[0]
		}
	}
	return data, nil
}

// isBodyTooLarge reports whether err came from the MaxBytesReader cap.
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

// =============================================================================
// Query: GET /readings
// =============================================================================

// handleReadings returns recent readings as a JSON array, newest first.
// The optional limit parameter is clamped by the store.
func (h *handler) handleReadings(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		// Garbage or non-positive limits fall back to the default.
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	readings, err := h.st.Recent(r.Context(), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]map[string]any, 0, len(readings))
	for _, reading := range readings {
		row := make(map[string]any, len(reading.Values)+2)
		row["id"] = reading.ID
		row["timestamp"] = reading.Timestamp.Format(time.RFC3339)
		for field, v := range reading.Values {
			row[field] = v
		}
		out = append(out, row)
	}

	respondJSON(w, http.StatusOK, out)
}

// =============================================================================
// Query: GET /stats
// =============================================================================

// handleStats summarizes the most recent readings per sensor.
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	readings, err := h.st.Recent(r.Context(), h.cfg.Stats.Window)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"window":  h.cfg.Stats.Window,
		"sensors": stats.Summarize(h.reg, readings),
	})
}

// =============================================================================
// Health: GET /health
// =============================================================================

// handleHealth reports process liveness and storage connectivity.
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339)

	degraded := func() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "error",
			"storage":   "degraded",
			"message":   "database connection failed",
			"timestamp": now,
		})
	}

	if err := h.st.Ping(r.Context()); err != nil {
		degraded()
		return
	}

	count, err := h.st.Count(r.Context())
	if err != nil {
		degraded()
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"storage":        "ok",
		"timestamp":      now,
		"readings_count": count,
		"rate_limiting":  true,
		"authentication": h.cfg.Server.APIKey != "",
	})
}
