package blobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"casekeeper/internal/apperr"
	"casekeeper/internal/storage"
)

var _ storage.Backend = (*Badger)(nil)

// Options configures the secondary backend.
type Options struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	// MaxBytes caps the sum of key and value sizes. Zero means unlimited.
	MaxBytes int64
	Logger   *slog.Logger
}

// Badger is the large-capacity transactional blob store.
type Badger struct {
	db       *badger.DB
	maxBytes int64
	logger   *slog.Logger

	// mu serialises writes so the capacity check and the commit see the same usage.
	mu sync.Mutex
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

// Open opens a BadgerDB database. The directory is created when missing.
func Open(o Options) (*Badger, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default().With("component", "blobstore")
	}

	var opts badger.Options
	if o.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if strings.TrimSpace(o.Dir) == "" {
			return nil, fmt.Errorf("blob store directory is required")
		}
		info, err := os.Stat(o.Dir)
		switch {
		case os.IsNotExist(err):
			if err := os.MkdirAll(o.Dir, 0o755); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, err
		case !info.IsDir():
			return nil, fmt.Errorf("%s is not a directory", o.Dir)
		}
		opts = badger.DefaultOptions(o.Dir)
	}

	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Badger{db: db, maxBytes: o.MaxBytes, logger: logger}, nil
}

// Close closes the database.
func (b *Badger) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Put stores value under key.
func (b *Badger) Put(ctx context.Context, key string, value []byte) error {
	return b.PutMany(ctx, []storage.Entry{{Key: key, Value: value}})
}

// PutMany writes all entries in one transaction.
func (b *Badger) PutMany(ctx context.Context, entries []storage.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, e := range entries {
		if strings.TrimSpace(e.Key) == "" {
			return apperr.Validationf("key is required")
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.db.Update(func(txn *badger.Txn) error {
		if b.maxBytes > 0 {
			if err := b.checkCapacity(txn, entries); err != nil {
				return err
			}
		}
		for _, e := range entries {
			value := e.Value
			if value == nil {
				value = []byte{}
			}
			if err := txn.Set([]byte(e.Key), value); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		return apperr.QuotaExceeded(fmt.Errorf("secondary store transaction too large: %w", err))
	}
	return err
}

func (b *Badger) checkCapacity(txn *badger.Txn, entries []storage.Entry) error {
	used, err := usedBytes(txn)
	if err != nil {
		return err
	}
	for _, e := range entries {
		item, err := txn.Get([]byte(e.Key))
		switch {
		case err == nil:
			used -= int64(len(item.Key())) + item.ValueSize()
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		used += int64(len(e.Key) + len(e.Value))
	}
	if used > b.maxBytes {
		return apperr.QuotaExceeded(fmt.Errorf("secondary store full: %d of %d bytes", used, b.maxBytes))
	}
	return nil
}

func usedBytes(txn *badger.Txn) (int64, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var used int64
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		used += int64(len(item.Key())) + item.ValueSize()
	}
	return used, nil
}

// Get returns the value stored under key.
func (b *Badger) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Delete removes key. Missing keys are ignored.
func (b *Badger) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// List returns keys starting with prefix in ascending order.
func (b *Badger) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, err
}

// UsedBytes returns the sum of live key and value sizes.
func (b *Badger) UsedBytes(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var used int64
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		used, err = usedBytes(txn)
		return err
	})
	return used, err
}
