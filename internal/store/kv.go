package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"casekeeper/internal/apperr"
	"casekeeper/internal/storage"
)

var _ storage.Backend = (*Store)(nil)

// Usage reports how much of the byte ceiling is in use.
type Usage struct {
	UsedBytes     int64 `json:"used_bytes"`
	CapacityBytes int64 `json:"capacity_bytes"`
	Keys          int   `json:"keys"`
}

// Put stores value under key, rejecting writes that would breach the ceiling.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return s.PutMany(ctx, []storage.Entry{{Key: key, Value: value}})
}

// PutMany stores all entries in one transaction. Either every entry is
// written or none is.
func (s *Store) PutMany(ctx context.Context, entries []storage.Entry) (err error) {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if strings.TrimSpace(e.Key) == "" {
			return apperr.Validationf("key is required")
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var used int64
	if err = tx.QueryRowContext(ctx, "SELECT COALESCE(SUM(size_bytes), 0) FROM kv").Scan(&used); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, e := range entries {
		var previous int64
		err = tx.QueryRowContext(ctx, "SELECT size_bytes FROM kv WHERE key = ?", e.Key).Scan(&previous)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		size := entrySize(e.Key, e.Value)
		used += size - previous
		if used > s.capacity {
			err = apperr.QuotaExceeded(fmt.Errorf("primary store full: %d of %d bytes after writing %q", used, s.capacity, e.Key))
			return err
		}
		value := e.Value
		if value == nil {
			value = []byte{}
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, updated_at, size_bytes) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at, size_bytes = excluded.size_bytes
		`, e.Key, value, now, size); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Get returns the value for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Delete removes key. Missing keys are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	return err
}

// List returns keys starting with prefix in ascending order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM kv ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, rows.Err()
}

// Usage returns current quota usage.
func (s *Store) Usage(ctx context.Context) (Usage, error) {
	u := Usage{CapacityBytes: s.capacity}
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(size_bytes), 0), COUNT(*) FROM kv").Scan(&u.UsedBytes, &u.Keys)
	return u, err
}

func entrySize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}
