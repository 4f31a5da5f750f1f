// Package dialect hides the SQL differences between the databases the
// access-record store can run on.
package dialect

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Dialect is one database flavour of the access-record table.
type Dialect interface {
	Name() string

	// DriverName is the database/sql driver the dialect opens.
	DriverName() string

	// Rebind converts ? placeholders to the dialect's bind style.
	Rebind(query string) string

	// Session returns statements run once right after opening.
	Session() []string

	// Schema returns the idempotent DDL for the access_records table and
	// its indexes.
	Schema() []string
}

// DialectType names a supported database.
type DialectType string

const (
	SQLite   DialectType = "sqlite"
	Postgres DialectType = "postgres"
)

// New returns the dialect for t.
func New(t DialectType) (Dialect, error) {
	switch t {
	case SQLite:
		return sqliteDialect{}, nil
	case Postgres:
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", t)
	}
}

// FromDriverName maps a configured driver name onto its dialect.
func FromDriverName(driverName string) (Dialect, error) {
	switch strings.ToLower(driverName) {
	case "sqlite", "sqlite3":
		return New(SQLite)
	case "postgres", "postgresql", "pgx":
		return New(Postgres)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driverName)
	}
}

// accessRecordsTable renders the table DDL with the dialect's column types.
func accessRecordsTable(durationType, timeType string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS access_records (
id TEXT PRIMARY KEY,
trace_id TEXT,
request_id TEXT,
method TEXT NOT NULL,
url TEXT NOT NULL,
forward_url TEXT,
status INTEGER NOT NULL,
route_id TEXT,
route_uri TEXT,
log_type INTEGER NOT NULL,
request_body TEXT,
duration_s %s NOT NULL,
error TEXT,
created_at %s NOT NULL
)`, durationType, timeType)
}

var accessRecordIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_access_records_route ON access_records(route_id)`,
	`CREATE INDEX IF NOT EXISTS idx_access_records_created ON access_records(created_at)`,
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return string(SQLite) }
func (sqliteDialect) DriverName() string { return "sqlite" }

func (sqliteDialect) Rebind(query string) string {
	return sqlx.Rebind(sqlx.QUESTION, query)
}

// Session enables WAL so the access log can write while the admin API reads.
func (sqliteDialect) Session() []string {
	return []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
}

func (sqliteDialect) Schema() []string {
	return append([]string{accessRecordsTable("REAL", "TIMESTAMP")}, accessRecordIndexes...)
}

// postgresDialect opens the "pgx" driver, which the binary must register.
type postgresDialect struct{}

func (postgresDialect) Name() string       { return string(Postgres) }
func (postgresDialect) DriverName() string { return "pgx" }

func (postgresDialect) Rebind(query string) string {
	return sqlx.Rebind(sqlx.DOLLAR, query)
}

func (postgresDialect) Session() []string { return nil }

func (postgresDialect) Schema() []string {
	return append([]string{accessRecordsTable("DOUBLE PRECISION", "TIMESTAMP WITH TIME ZONE")}, accessRecordIndexes...)
}
