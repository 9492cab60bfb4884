// Package store provides database operations for the sensorlog application.
//
// This package owns the on-disk readings database. It uses DuckDB as the
// backing database and is the sole component that touches the file: schema
// reconciliation, inserts, recent-readings queries, and the forward-only
// export stream all go through Store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/registry"
)

var log = logging.Component("store")

// =============================================================================
// Store Configuration
// =============================================================================

// Config holds store configuration options.
type Config struct {
	// Path is the database file path. Empty means in-memory (tests).
	Path string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// QueryTimeout is the default timeout for queries.
	QueryTimeout time.Duration

	// DefaultLimit is used by Recent when the caller passes a non-positive limit.
	DefaultLimit int

	// MaxLimit is the hard ceiling Recent clamps limits to.
	MaxLimit int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		QueryTimeout: config.DefaultQueryTimeout,
		DefaultLimit: config.DefaultReadingsLimit,
		MaxLimit:     config.MaxReadingsLimit,
	}
}

// =============================================================================
// Reading
// =============================================================================

// Reading is one persisted measurement event.
//
// Values holds only the sensor columns that are non-null for this row.
type Reading struct {
	ID        int64
	Timestamp time.Time
	Values    map[string]float64
}

// Row is one reading with every sensor column in registry order, including
// nulls. It is the export representation used by the CSV and Parquet streams.
type Row struct {
	ID        int64
	Timestamp time.Time
	Values    []sql.NullFloat64
}

// =============================================================================
// Store
// =============================================================================

// Store provides database operations.
//
// Store is safe for concurrent use. DuckDB serializes writers internally;
// no application-level write queue exists.
type Store struct {
	db     *sql.DB
	reg    *registry.Registry
	config Config
	mu     sync.RWMutex
	closed bool
}

// Open creates a new Store backed by the database file in cfg.Path.
func Open(cfg Config, reg *registry.Registry) (*Store, error) {
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = config.DefaultQueryTimeout
	}
	if cfg.DefaultLimit == 0 {
		cfg.DefaultLimit = config.DefaultReadingsLimit
	}
	if cfg.MaxLimit == 0 {
		cfg.MaxLimit = config.MaxReadingsLimit
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{
		db:     db,
		reg:    reg,
		config: cfg,
	}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}

// Ping verifies database connectivity. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return errors.NewStorage("ping", err)
	}
	return nil
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ErrStoreClosed
	}
	return nil
}

// =============================================================================
// Schema Reconciliation
// =============================================================================

// EnsureSchema creates the readings table if absent and adds a column for
// every registered sensor that the physical table does not have yet.
//
// The operation is additive and idempotent: columns for sensors removed from
// the registry are left in place and simply no longer written or read. Every
// statement uses IF NOT EXISTS, so concurrent or repeated invocation cannot
// corrupt state.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx,
		`CREATE SEQUENCE IF NOT EXISTS readings_id_seq START 1`); err != nil {
		return errors.NewStorage("create sequence", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS readings (
			id BIGINT PRIMARY KEY DEFAULT nextval('readings_id_seq'),
			timestamp TIMESTAMP NOT NULL DEFAULT current_timestamp
		)`); err != nil {
		return errors.NewStorage("create table", err)
	}

	for _, field := range s.reg.Fields() {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
			`ALTER TABLE readings ADD COLUMN IF NOT EXISTS %s DOUBLE`, quoteIdent(field))); err != nil {
			return errors.NewStorage(fmt.Sprintf("add column %s", field), err)
		}
	}

	log.Info("schema ready", "columns", s.reg.Len()+2)
	return nil
}

// quoteIdent quotes a column identifier. Field names are validated by the
// registry at startup, so this is belt-and-suspenders quoting only.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// =============================================================================
// Insert
// =============================================================================

// Insert appends one reading row with the given timestamp and values and
// returns the assigned row id.
//
// Fields absent from values are stored as NULL. The insert is a single
// atomic statement: a client that disconnects mid-request either leaves no
// row or a fully committed one.
func (s *Store) Insert(ctx context.Context, ts time.Time, values map[string]float64) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, errors.ErrNoRecognizedData
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	// Build the column list in registry order for deterministic SQL.
	cols := []string{"timestamp"}
	args := []any{ts.UTC()}
	for _, field := range s.reg.Fields() {
		if v, ok := values[field]; ok {
			cols = append(cols, quoteIdent(field))
			args = append(args, v)
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
	query := fmt.Sprintf(`INSERT INTO readings (%s) VALUES (%s) RETURNING id`,
		strings.Join(cols, ", "), placeholders)

	var id int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, errors.NewStorage("insert reading", err)
	}

	log.Debug("inserted reading", "id", id, "fields", len(values))
	return id, nil
}

// =============================================================================
// Recent
// =============================================================================

// Recent returns up to limit readings ordered by timestamp descending.
//
// A non-positive limit falls back to the configured default; limits above
// the configured maximum are clamped.
func (s *Store) Recent(ctx context.Context, limit int) ([]Reading, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM readings ORDER BY timestamp DESC, id DESC LIMIT ?`, s.selectColumns()), limit)
	if err != nil {
		return nil, errors.NewStorage("query recent", err)
	}
	defer rows.Close()

	readings := make([]Reading, 0, limit)
	for rows.Next() {
		r, err := s.scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("iterate recent", err)
	}

	return readings, nil
}

// selectColumns returns "id, timestamp, <fields in registry order>".
func (s *Store) selectColumns() string {
	cols := []string{"id", "timestamp"}
	for _, field := range s.reg.Fields() {
		cols = append(cols, quoteIdent(field))
	}
	return strings.Join(cols, ", ")
}

// scanReading scans the current row into a Reading, dropping NULL columns.
func (s *Store) scanReading(rows *sql.Rows) (Reading, error) {
	fields := s.reg.Fields()

	var id int64
	var ts time.Time
	vals := make([]sql.NullFloat64, len(fields))

	dest := make([]any, 0, len(fields)+2)
	dest = append(dest, &id, &ts)
	for i := range vals {
		dest = append(dest, &vals[i])
	}

	if err := rows.Scan(dest...); err != nil {
		return Reading{}, errors.NewStorage("scan reading", err)
	}

	r := Reading{
		ID:        id,
		Timestamp: ts.UTC(),
		Values:    make(map[string]float64),
	}
	for i, v := range vals {
		if v.Valid {
			r.Values[fields[i]] = v.Float64
		}
	}
	return r, nil
}

// =============================================================================
// Count
// =============================================================================

// Count returns the total number of stored readings.
func (s *Store) Count(ctx context.Context) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM readings`).Scan(&n); err != nil {
		return 0, errors.NewStorage("count readings", err)
	}
	return n, nil
}

// =============================================================================
// Export Stream
// =============================================================================

// RowStream is a forward-only cursor over every reading, ascending by id.
//
// A stream is consumed once, front to back; a fresh StreamAll call re-reads
// from the beginning. Rows are fetched lazily from the database, so memory
// use does not grow with history size.
type RowStream struct {
	rows   *sql.Rows
	fields []string
	cancel context.CancelFunc
	err    error
}

// StreamAll returns a stream over all readings for export.
//
// The caller must Close the stream. No query timeout applies: exports of
// arbitrarily large histories are expected to outlive the default timeout,
// and the passed context still cancels the scan if the client goes away.
func (s *Store) StreamAll(ctx context.Context) (*RowStream, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM readings ORDER BY id ASC`, s.selectColumns()))
	if err != nil {
		cancel()
		return nil, errors.NewStorage("query export", err)
	}

	return &RowStream{
		rows:   rows,
		fields: s.reg.Fields(),
		cancel: cancel,
	}, nil
}

// Next advances to the next row. It returns false when the stream is
// exhausted or failed; check Err afterwards.
func (st *RowStream) Next() (Row, bool) {
	if st.err != nil || !st.rows.Next() {
		return Row{}, false
	}

	var r Row
	var ts time.Time
	r.Values = make([]sql.NullFloat64, len(st.fields))

	dest := make([]any, 0, len(st.fields)+2)
	dest = append(dest, &r.ID, &ts)
	for i := range r.Values {
		dest = append(dest, &r.Values[i])
	}

	if err := st.rows.Scan(dest...); err != nil {
		// rows.Err does not report Scan failures; record it ourselves so
		// exports can tell truncation from completion.
		st.err = errors.NewStorage("scan export", err)
		st.rows.Close()
		return Row{}, false
	}

	r.Timestamp = ts.UTC()
	return r, true
}

// Err returns the first error encountered during iteration, if any.
func (st *RowStream) Err() error {
	if st.err != nil {
		return st.err
	}
	if err := st.rows.Err(); err != nil {
		return errors.NewStorage("iterate export", err)
	}
	return nil
}

// Close releases the stream's resources. Safe to call more than once.
func (st *RowStream) Close() error {
	st.cancel()
	return st.rows.Close()
}
