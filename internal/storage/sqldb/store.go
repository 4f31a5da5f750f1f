// Package sqldb is the database/sql implementation of the access-record
// store. SQLite (modernc) is registered by default.
package sqldb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/envelope-gateway/internal/storage"
	"github.com/tjfontaine/envelope-gateway/internal/storage/dialect"
)

// Store is a SQL implementation of storage.AccessRecordStore.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ storage.AccessRecordStore = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range d.Session() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to prepare %s session: %w", d.Name(), err)
		}
	}

	store := &Store{db: db, dialect: d}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a store backed by the SQLite database at dbPath.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) initSchema() error {
	for _, stmt := range s.dialect.Schema() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) Record(ctx context.Context, rec *storage.AccessRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `INSERT INTO access_records (id, trace_id, request_id, method, url, forward_url, status,
		route_id, route_uri, log_type, request_body, duration_s, error, created_at)
		VALUES (:id, :trace_id, :request_id, :method, :url, :forward_url, :status,
		:route_id, :route_uri, :log_type, :request_body, :duration_s, :error, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to insert access record: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, opts storage.ListOptions) ([]*storage.AccessRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	query := `SELECT id, trace_id, request_id, method, url, forward_url, status, route_id, route_uri,
		log_type, request_body, duration_s, error, created_at FROM access_records`
	args := []any{}
	if opts.RouteID != "" {
		query += ` WHERE route_id = ?`
		args = append(args, opts.RouteID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	var records []*storage.AccessRecord
	if err := s.db.SelectContext(ctx, &records, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query access records: %w", err)
	}
	return records, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
