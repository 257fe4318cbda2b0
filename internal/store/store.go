// Package store persists documents, ballots, detection jobs and parse
// results. SQLite is the default backend; Postgres serves production
// deployments. Schema changes ship as embedded migrations applied on
// open.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverSQLite is the default file-backed driver.
	DriverSQLite = "sqlite3"
	// DriverPostgres selects the Postgres backend; DSN is a postgres URL.
	DriverPostgres = "postgres"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Config selects and locates the database backend.
type Config struct {
	// Driver is DriverSQLite or DriverPostgres.
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver"`
	// DSN is the database file path for SQLite or a connection URL for
	// Postgres.
	DSN string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
}

// Store wraps the database connection.
type Store struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// Open connects to the configured database, creates it if needed and
// applies pending migrations.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(cfg.DSN); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		// Connection options go in the DSN so every pooled connection
		// gets them, not just the first.
		dsn := cfg.DSN
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
		}
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
	case DriverPostgres:
		db, err = sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	s := &Store{
		db:     db,
		driver: driver,
		logger: logger.With("component", "store", "driver", driver),
	}
	if err := s.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for the Postgres driver. Queries
// are written once in SQLite style.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
