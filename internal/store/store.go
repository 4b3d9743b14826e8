package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	busyTimeoutMS          = 5000
	defaultMaxOpenConns    = 1
	defaultMaxIdleConns    = 1
	defaultConnMaxLifetime = 5 * time.Minute

	// DefaultCapacityBytes mirrors the per-origin budget of browser local storage.
	DefaultCapacityBytes int64 = 5 * 1024 * 1024

	maxOpenConnsEnvKey    = "CASEKEEPER_SQLITE_MAX_OPEN_CONNS"
	connMaxLifetimeEnvKey = "CASEKEEPER_SQLITE_CONN_MAX_LIFETIME"
)

// Store is the primary key/value backend: a small SQLite table with a hard
// byte ceiling.
type Store struct {
	db       *sql.DB
	capacity int64
}

// Open opens the SQLite database at path and bootstraps the schema.
// A non-positive capacity selects DefaultCapacityBytes.
func Open(path string, capacity int64) (*Store, error) {
	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := configureDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if capacity <= 0 {
		capacity = DefaultCapacityBytes
	}
	return &Store{db: db, capacity: capacity}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Capacity returns the byte ceiling.
func (s *Store) Capacity() int64 {
	return s.capacity
}

// SchemaVersion returns the version stamped in the database header.
func (s *Store) SchemaVersion() (int, error) {
	return currentVersion(s.db)
}

func configureDB(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeoutMS),
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	// Tune connection pool for local usage.
	maxOpen := intFromEnv(maxOpenConnsEnvKey, defaultMaxOpenConns)
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(min(maxOpen, defaultMaxIdleConns))
	db.SetConnMaxLifetime(durationFromEnv(connMaxLifetimeEnvKey, defaultConnMaxLifetime))

	return nil
}

func sqliteDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("db path is required")
	}
	u := url.URL{Scheme: "file", Path: path}
	return u.String(), nil
}

func intFromEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
