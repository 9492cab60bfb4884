package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/sensorlog/internal/loader"
	"github.com/xtxerr/sensorlog/internal/registry"
	"github.com/xtxerr/sensorlog/internal/store"
)

// newTestServer builds a server over a fresh database file.
func newTestServer(t *testing.T, mutate func(*loader.Config)) (http.Handler, *store.Store) {
	t.Helper()

	cfg := loader.DefaultConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "readings.db")
	if mutate != nil {
		mutate(cfg)
	}

	reg, err := registry.New([]registry.Sensor{
		{Field: "outside_temp", Name: "Outside Temperature", Unit: "°C"},
		{Field: "outside_humidity", Name: "Outside Humidity", Unit: "%"},
		{Field: "co2_level", Name: "CO2 Level", Unit: "ppm"},
	})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}

	storeCfg := store.DefaultConfig()
	storeCfg.Path = cfg.Storage.Path
	storeCfg.DefaultLimit = cfg.Storage.DefaultLimit
	storeCfg.MaxLimit = cfg.Storage.MaxLimit

	st, err := store.Open(storeCfg, reg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	srv := New(cfg, reg, st)
	return srv.routes(), st
}

func postForm(t *testing.T, h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func rowCount(t *testing.T, st *store.Store) int64 {
	t.Helper()
	n, err := st.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

// =============================================================================
// Ingestion
// =============================================================================

func TestLog_FormSubmission(t *testing.T) {
	h, st := newTestServer(t, nil)

	w := postForm(t, h, "/log", url.Values{
		"outside_temp":     {"18.5"},
		"outside_humidity": {"65"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Status string             `json:"status"`
		ID     int64              `json:"id"`
		Data   map[string]float64 `json:"data"`
	}
	decodeBody(t, w, &resp)

	if resp.Status != "success" || resp.ID == 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Data["outside_temp"] != 18.5 || resp.Data["outside_humidity"] != 65 {
		t.Errorf("unexpected data: %v", resp.Data)
	}

	// Exactly one row.
	if n := rowCount(t, st); n != 1 {
		t.Errorf("expected 1 row, got %d", n)
	}

	// Read it back through the API.
	w = get(t, h, "/readings?limit=1")
	if w.Code != http.StatusOK {
		t.Fatalf("readings: expected 200, got %d", w.Code)
	}
	var rows []map[string]any
	decodeBody(t, w, &rows)
	if len(rows) != 1 {
		t.Fatalf("expected 1 reading, got %d", len(rows))
	}
	if rows[0]["outside_temp"] != 18.5 || rows[0]["outside_humidity"] != 65.0 {
		t.Errorf("unexpected reading: %v", rows[0])
	}
}

func TestLog_JSONSubmission(t *testing.T) {
	h, _ := newTestServer(t, nil)

	body, _ := json.Marshal(map[string]any{
		"outside_temp": 18.5,
		"co2_level":    "650 ppm",
	})
	req := httptest.NewRequest(http.MethodPost, "/log", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data map[string]float64 `json:"data"`
	}
	decodeBody(t, w, &resp)
	if resp.Data["outside_temp"] != 18.5 || resp.Data["co2_level"] != 650 {
		t.Errorf("unexpected data: %v", resp.Data)
	}
}

func TestLog_UnitSuffixStored(t *testing.T) {
	h, _ := newTestServer(t, nil)

	w := postForm(t, h, "/log", url.Values{"outside_temp": {"18.4 °C"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = get(t, h, "/readings?limit=1")
	var rows []map[string]any
	decodeBody(t, w, &rows)
	if rows[0]["outside_temp"] != 18.4 {
		t.Errorf("expected stored 18.4, got %v", rows[0]["outside_temp"])
	}
}

func TestLog_NoRecognizedFields(t *testing.T) {
	h, st := newTestServer(t, nil)

	w := postForm(t, h, "/log", url.Values{"foo": {"bar"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if n := rowCount(t, st); n != 0 {
		t.Errorf("expected 0 rows, got %d", n)
	}
}

func TestLog_EmptyBody(t *testing.T) {
	h, _ := newTestServer(t, nil)

	w := postForm(t, h, "/log", url.Values{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestLog_PartialParseFailure(t *testing.T) {
	h, st := newTestServer(t, nil)

	w := postForm(t, h, "/log", url.Values{
		"outside_temp":     {"18.5"},
		"outside_humidity": {"not-a-number"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with warnings, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data     map[string]float64 `json:"data"`
		Warnings map[string]string  `json:"warnings"`
	}
	decodeBody(t, w, &resp)

	if _, ok := resp.Data["outside_humidity"]; ok {
		t.Error("unparseable field must not be stored")
	}
	if _, ok := resp.Warnings["outside_humidity"]; !ok {
		t.Errorf("expected warning for outside_humidity, got %v", resp.Warnings)
	}
	if n := rowCount(t, st); n != 1 {
		t.Errorf("expected 1 row, got %d", n)
	}
}

func TestLog_AllFieldsFailParsing(t *testing.T) {
	h, st := newTestServer(t, nil)

	w := postForm(t, h, "/log", url.Values{"outside_temp": {"garbage"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Details map[string]string `json:"details"`
	}
	decodeBody(t, w, &resp)
	if _, ok := resp.Details["outside_temp"]; !ok {
		t.Errorf("expected per-field detail, got %v", resp.Details)
	}

	if n := rowCount(t, st); n != 0 {
		t.Errorf("expected 0 rows, got %d", n)
	}
}

func TestLog_EmptyValueIsAbsent(t *testing.T) {
	h, st := newTestServer(t, nil)

	// A blank recognized field alone stores nothing.
	w := postForm(t, h, "/log", url.Values{"outside_temp": {""}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if n := rowCount(t, st); n != 0 {
		t.Errorf("expected 0 rows, got %d", n)
	}

	// Alongside a valid field it is simply omitted, with no warning.
	w = postForm(t, h, "/log", url.Values{
		"outside_temp":     {"18.5"},
		"outside_humidity": {""},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Data     map[string]float64 `json:"data"`
		Warnings map[string]string  `json:"warnings"`
	}
	decodeBody(t, w, &resp)
	if _, ok := resp.Data["outside_humidity"]; ok {
		t.Error("blank field must not be stored")
	}
	if len(resp.Warnings) != 0 {
		t.Errorf("blank field must not warn: %v", resp.Warnings)
	}
}

func TestLog_MethodNotAllowed(t *testing.T) {
	h, _ := newTestServer(t, nil)

	w := get(t, h, "/log")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

// =============================================================================
// Readings
// =============================================================================

func TestReadings_LimitAndOrder(t *testing.T) {
	h, _ := newTestServer(t, nil)

	for _, v := range []string{"1", "2", "3"} {
		if w := postForm(t, h, "/log", url.Values{"outside_temp": {v}}); w.Code != http.StatusOK {
			t.Fatalf("insert %s: %d", v, w.Code)
		}
	}

	w := get(t, h, "/readings?limit=2")
	var rows []map[string]any
	decodeBody(t, w, &rows)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	// Newest first: ids descend.
	first := rows[0]["id"].(float64)
	second := rows[1]["id"].(float64)
	if first <= second {
		t.Errorf("expected newest first, got ids %v, %v", first, second)
	}

	// Garbage limit falls back to the default and returns everything here.
	w = get(t, h, "/readings?limit=banana")
	if w.Code != http.StatusOK {
		t.Fatalf("garbage limit: expected 200, got %d", w.Code)
	}
	decodeBody(t, w, &rows)
	if len(rows) != 3 {
		t.Errorf("expected 3 rows with default limit, got %d", len(rows))
	}
}

// =============================================================================
// CSV Export
// =============================================================================

func TestCSV_Export(t *testing.T) {
	h, _ := newTestServer(t, nil)

	submissions := []url.Values{
		{"outside_temp": {"1"}},
		{"outside_temp": {"2"}, "outside_humidity": {"60"}},
		{"co2_level": {"650"}},
	}
	for i, form := range submissions {
		if w := postForm(t, h, "/log", form); w.Code != http.StatusOK {
			t.Fatalf("insert %d: %d", i, w.Code)
		}
	}

	w := get(t, h, "/readings/csv")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("expected text/csv, got %q", ct)
	}

	lines := strings.Split(strings.TrimRight(w.Body.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header + 3 rows, got %d lines: %q", len(lines), lines)
	}

	// Header order matches the registry.
	if lines[0] != "id,timestamp,outside_temp,outside_humidity,co2_level" {
		t.Errorf("unexpected header: %q", lines[0])
	}

	// Rows in insertion order; nulls rendered empty.
	if !strings.HasSuffix(lines[1], ",1,,") {
		t.Errorf("unexpected first row: %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], ",2,60,") {
		t.Errorf("unexpected second row: %q", lines[2])
	}
	if !strings.HasSuffix(lines[3], ",,,650") {
		t.Errorf("unexpected third row: %q", lines[3])
	}
}

// =============================================================================
// Parquet Export
// =============================================================================

func TestParquet_Export(t *testing.T) {
	h, _ := newTestServer(t, nil)

	for _, v := range []string{"1", "2", "3"} {
		if w := postForm(t, h, "/log", url.Values{"outside_temp": {v}}); w.Code != http.StatusOK {
			t.Fatalf("insert %s: %d", v, w.Code)
		}
	}

	w := get(t, h, "/readings/parquet")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	raw := w.Body.Bytes()
	f, err := parquet.OpenFile(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("open parquet: %v", err)
	}
	if f.NumRows() != 3 {
		t.Errorf("expected 3 rows, got %d", f.NumRows())
	}
}

// =============================================================================
// Stats
// =============================================================================

func TestStats(t *testing.T) {
	h, _ := newTestServer(t, nil)

	for _, v := range []string{"10", "20", "30"} {
		if w := postForm(t, h, "/log", url.Values{"outside_temp": {v}}); w.Code != http.StatusOK {
			t.Fatalf("insert %s: %d", v, w.Code)
		}
	}

	w := get(t, h, "/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Sensors []struct {
			Field string  `json:"field"`
			Count int64   `json:"count"`
			Min   float64 `json:"min"`
			Max   float64 `json:"max"`
		} `json:"sensors"`
	}
	decodeBody(t, w, &resp)

	if len(resp.Sensors) != 1 {
		t.Fatalf("expected 1 sensor summary, got %d", len(resp.Sensors))
	}
	s := resp.Sensors[0]
	if s.Field != "outside_temp" || s.Count != 3 || s.Min != 10 || s.Max != 30 {
		t.Errorf("unexpected summary: %+v", s)
	}
}

// =============================================================================
// Health
// =============================================================================

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, nil)

	w := get(t, h, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]any
	decodeBody(t, w, &resp)
	if resp["status"] != "ok" || resp["storage"] != "ok" {
		t.Errorf("unexpected health: %v", resp)
	}
	if resp["authentication"] != false {
		t.Errorf("expected authentication false, got %v", resp["authentication"])
	}
}

func TestHealth_Degraded(t *testing.T) {
	h, st := newTestServer(t, nil)
	st.Close()

	w := get(t, h, "/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	var resp map[string]any
	decodeBody(t, w, &resp)
	if resp["storage"] != "degraded" {
		t.Errorf("expected degraded storage, got %v", resp)
	}
}

// =============================================================================
// Access Guard
// =============================================================================

func TestAuth_RejectsBeforeStorage(t *testing.T) {
	h, st := newTestServer(t, func(c *loader.Config) {
		c.Server.APIKey = "secret"
	})

	// Missing key.
	w := postForm(t, h, "/log", url.Values{"outside_temp": {"18.5"}})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	// Wrong key.
	req := httptest.NewRequest(http.MethodPost, "/log",
		strings.NewReader(url.Values{"outside_temp": {"18.5"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %d", w.Code)
	}

	// Nothing reached the store.
	if n := rowCount(t, st); n != 0 {
		t.Errorf("expected 0 rows after rejected requests, got %d", n)
	}

	// Correct key via header.
	req = httptest.NewRequest(http.MethodPost, "/log",
		strings.NewReader(url.Values{"outside_temp": {"18.5"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-API-Key", "secret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d: %s", w.Code, w.Body.String())
	}

	// Correct key via query parameter.
	w = get(t, h, "/readings?api_key=secret")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with query key, got %d", w.Code)
	}

	// Health stays open.
	w = get(t, h, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("expected open /health, got %d", w.Code)
	}
}

func TestRateLimit_WriteTier(t *testing.T) {
	h, _ := newTestServer(t, func(c *loader.Config) {
		c.Limits.WritePerMinute = 2
	})

	for i := 0; i < 2; i++ {
		if w := postForm(t, h, "/log", url.Values{"outside_temp": {"1"}}); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}

	w := postForm(t, h, "/log", url.Values{"outside_temp": {"1"}})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}

	// The read tier is independent.
	if w := get(t, h, "/readings"); w.Code != http.StatusOK {
		t.Errorf("read tier should be unaffected, got %d", w.Code)
	}
}

func TestRequestID_Echoed(t *testing.T) {
	h, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("expected request ID echoed, got %q", got)
	}

	// Generated when absent.
	w = get(t, h, "/health")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected generated request ID")
	}
}
