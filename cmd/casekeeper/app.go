package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"casekeeper/internal/attachments"
	"casekeeper/internal/backup"
	"casekeeper/internal/blobstore"
	"casekeeper/internal/config"
	"casekeeper/internal/importer"
	"casekeeper/internal/repository"
	"casekeeper/internal/storage"
	"casekeeper/internal/store"
)

// app bundles the services a command runs against.
type app struct {
	primary   *store.Store
	secondary *blobstore.Badger
	kv        *storage.Adapter
	att       *attachments.Store
	repo      *repository.Repository
	backups   *backup.Manager
	engine    *importer.Engine
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	primary, err := store.Open(cfg.PrimaryPath(), cfg.Storage.PrimaryCapacityBytes)
	if err != nil {
		return nil, fmt.Errorf("open primary store: %w", err)
	}

	a := &app{primary: primary}
	adapterOpts := []storage.AdapterOption{
		storage.WithLogger(slog.Default().With("component", "storage")),
		storage.WithMetrics(storage.NewMetrics()),
	}
	if cfg.Storage.SecondaryEnabled {
		adapterOpts = append(adapterOpts, storage.WithSecondary(func() (storage.Backend, error) {
			b, err := blobstore.Open(blobstore.Options{
				Dir:      cfg.SecondaryDir(),
				MaxBytes: cfg.Storage.SecondaryMaxBytes,
				Logger:   slog.Default().With("component", "blobstore"),
			})
			if err != nil {
				return nil, err
			}
			a.secondary = b
			return b, nil
		}))
	}

	a.kv, err = storage.NewAdapter(primary, adapterOpts...)
	if err != nil {
		_ = primary.Close()
		return nil, err
	}

	a.att, err = attachments.New(a.kv,
		attachments.WithWorkers(cfg.Attachments.LoadWorkers),
		attachments.WithAllowedMediaTypes(cfg.Attachments.AllowedMediaTypes...),
	)
	if err != nil {
		_ = a.kv.Close()
		return nil, err
	}

	a.repo, err = repository.Open(ctx, a.kv,
		repository.WithCascade(a.att),
		repository.WithHooks(a.att.PruneRemovedHook()),
		repository.WithRetainedKeys(backup.RetainSnapshotKeys(a.kv)),
	)
	if err != nil {
		a.att.Release()
		_ = a.kv.Close()
		return nil, err
	}

	a.backups = backup.NewManager(a.kv, a.repo)
	a.engine = importer.NewEngine(a.repo)
	return a, nil
}

func (a *app) Close() error {
	a.att.Release()
	return a.kv.Close()
}

// withApp opens the data directory for the duration of fn.
func withApp(ctx context.Context, cfg *config.Config, fn func(*app) error) (err error) {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()
	return fn(a)
}
