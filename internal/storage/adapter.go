package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"casekeeper/internal/apperr"
)

const (
	backendPrimary   = "primary"
	backendSecondary = "secondary"

	fallbackUnavailable = "unavailable"
	fallbackQuota       = "quota"
	fallbackNotFound    = "not_found"
	fallbackWriteError  = "write_error"
)

// Opener initialises the secondary backend.
type Opener func() (Backend, error)

// Adapter exposes one put/get/delete/list surface over a small primary
// backend and an optional large secondary backend.
//
// The secondary is opened at most once. Writes prefer it and fall back to
// the primary when it is unavailable or the write fails there for any
// reason, quota or otherwise.
// Reads check the secondary first and the primary on a miss, since keys
// may have landed on either backend.
type Adapter struct {
	primary       Backend
	openSecondary Opener

	once         sync.Once
	secondary    Backend
	secondaryErr error

	logger  *slog.Logger
	metrics *Metrics
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithSecondary sets the opener for the secondary backend.
func WithSecondary(open Opener) AdapterOption {
	return func(a *Adapter) {
		a.openSecondary = open
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) AdapterOption {
	return func(a *Adapter) {
		if m != nil {
			a.metrics = m
		}
	}
}

// NewAdapter constructs an Adapter over primary.
func NewAdapter(primary Backend, opts ...AdapterOption) (*Adapter, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary backend is required")
	}
	a := &Adapter{
		primary: primary,
		logger:  slog.Default().With("component", "storage"),
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Status describes which backends are in use.
type Status struct {
	SecondaryConfigured bool   `json:"secondary_configured"`
	SecondaryActive     bool   `json:"secondary_active"`
	SecondaryError      string `json:"secondary_error,omitempty"`
}

// Status initialises the secondary if needed and reports the outcome.
func (a *Adapter) Status() Status {
	sec, err := a.secondaryBackend()
	st := Status{SecondaryConfigured: a.openSecondary != nil, SecondaryActive: sec != nil}
	if err != nil {
		st.SecondaryError = err.Error()
	}
	return st
}

// Metrics returns the adapter's metrics.
func (a *Adapter) Metrics() *Metrics {
	return a.metrics
}

func (a *Adapter) secondaryBackend() (Backend, error) {
	a.once.Do(func() {
		if a.openSecondary == nil {
			return
		}
		backend, err := a.openSecondary()
		if err == nil && backend == nil {
			err = fmt.Errorf("secondary opener returned no backend")
		}
		if err != nil {
			a.secondaryErr = apperr.BackendUnavailable(fmt.Errorf("open secondary backend: %w", err))
			a.logger.Warn("secondary backend unavailable; using primary", "error", err)
			return
		}
		a.secondary = backend
	})
	return a.secondary, a.secondaryErr
}

// Put writes value under key.
func (a *Adapter) Put(ctx context.Context, key string, value []byte) error {
	return a.write(ctx, "put", []string{key}, func(b Backend) error {
		return b.Put(ctx, key, value)
	})
}

// PutMany writes entries in a single backend transaction.
func (a *Adapter) PutMany(ctx context.Context, entries []Entry) error {
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return a.write(ctx, "put_many", keys, func(b Backend) error {
		return b.PutMany(ctx, entries)
	})
}

func (a *Adapter) write(ctx context.Context, op string, keys []string, fn func(Backend) error) error {
	sec, secErr := a.secondaryBackend()
	reason := fallbackUnavailable
	if sec != nil {
		err := fn(sec)
		a.metrics.observe(backendSecondary, op, err)
		if err == nil {
			a.dropStale(ctx, a.primary, backendPrimary, keys)
			return nil
		}
		reason = fallbackWriteError
		if errors.Is(err, apperr.ErrQuotaExceeded) {
			reason = fallbackQuota
		}
		a.logger.Warn("secondary backend rejected write; falling back to primary", "op", op, "keys", len(keys), "reason", reason, "error", err)
	} else if secErr == nil && a.openSecondary == nil {
		reason = ""
	}

	if reason != "" {
		a.metrics.fallback(op, reason)
	}
	err := fn(a.primary)
	a.metrics.observe(backendPrimary, op, err)
	if err != nil {
		if errors.Is(err, apperr.ErrQuotaExceeded) {
			return apperr.QuotaExceeded(fmt.Errorf("write rejected by every backend: %w", err))
		}
		return err
	}
	if sec != nil {
		a.dropStale(ctx, sec, backendSecondary, keys)
	}
	return nil
}

// dropStale removes copies left on the backend that did not take the
// latest write, so reads never return an older value.
func (a *Adapter) dropStale(ctx context.Context, b Backend, name string, keys []string) {
	for _, key := range keys {
		if err := b.Delete(ctx, key); err != nil {
			a.logger.Warn("failed to drop stale copy", "backend", name, "key", key, "error", err)
		}
	}
}

// Get returns the value for key from whichever backend holds it.
func (a *Adapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	sec, _ := a.secondaryBackend()
	if sec != nil {
		value, found, err := sec.Get(ctx, key)
		a.metrics.observe(backendSecondary, "get", err)
		if err != nil {
			return nil, false, err
		}
		if found {
			return value, true, nil
		}
		a.metrics.fallback("get", fallbackNotFound)
	}
	value, found, err := a.primary.Get(ctx, key)
	a.metrics.observe(backendPrimary, "get", err)
	return value, found, err
}

// Delete removes key from both backends. Missing keys are not an error.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	var errs []error
	if sec, _ := a.secondaryBackend(); sec != nil {
		err := sec.Delete(ctx, key)
		a.metrics.observe(backendSecondary, "delete", err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	err := a.primary.Delete(ctx, key)
	a.metrics.observe(backendPrimary, "delete", err)
	if err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// List returns the sorted union of matching keys on both backends.
func (a *Adapter) List(ctx context.Context, prefix string) ([]string, error) {
	seen := map[string]struct{}{}
	collect := func(b Backend, name string) error {
		keys, err := b.List(ctx, prefix)
		a.metrics.observe(name, "list", err)
		if err != nil {
			return err
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
		return nil
	}

	if sec, _ := a.secondaryBackend(); sec != nil {
		if err := collect(sec, backendSecondary); err != nil {
			return nil, err
		}
	}
	if err := collect(a.primary, backendPrimary); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Close closes both backends.
func (a *Adapter) Close() error {
	var errs []error
	if a.secondary != nil {
		errs = append(errs, a.secondary.Close())
	}
	errs = append(errs, a.primary.Close())
	return errors.Join(errs...)
}
