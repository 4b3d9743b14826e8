package repository

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"casekeeper/internal/models"
)

// DraftSource supplies the record currently being edited. ok is false when
// there is nothing to save.
type DraftSource interface {
	Draft(ctx context.Context) (rec models.CaseRecord, ok bool, err error)
}

// DraftFunc adapts a function to DraftSource.
type DraftFunc func(ctx context.Context) (models.CaseRecord, bool, error)

func (f DraftFunc) Draft(ctx context.Context) (models.CaseRecord, bool, error) {
	return f(ctx)
}

// Autosaver periodically saves the current draft through the repository.
// Once a draft without an id has been inserted, later firings reuse the
// minted id so the same record is updated instead of duplicated.
type Autosaver struct {
	repo    *Repository
	source  DraftSource
	logger  *slog.Logger
	onSaved func(models.CaseRecord, SaveOutcome)

	mu       sync.Mutex
	cron     *cron.Cron
	interval time.Duration
	running  bool
	lastID   string
	lastCat  models.Category
}

// AutosaveOption configures an Autosaver.
type AutosaveOption func(*Autosaver)

// WithAutosaveLogger sets a custom logger.
func WithAutosaveLogger(logger *slog.Logger) AutosaveOption {
	return func(a *Autosaver) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// OnSaved registers a callback run after every successful autosave.
func OnSaved(fn func(models.CaseRecord, SaveOutcome)) AutosaveOption {
	return func(a *Autosaver) {
		a.onSaved = fn
	}
}

func NewAutosaver(repo *Repository, source DraftSource, opts ...AutosaveOption) *Autosaver {
	a := &Autosaver{
		repo:   repo,
		source: source,
		logger: slog.Default().With("component", "repository.autosave"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start schedules RunOnce every interval. Starting a running Autosaver is an error.
func (a *Autosaver) Start(ctx context.Context, interval time.Duration) error {
	if interval < time.Second {
		return fmt.Errorf("autosave interval must be at least 1s, got %s", interval)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("autosave already running")
	}

	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if _, _, err := a.RunOnce(ctx); err != nil {
			a.logger.Error("autosave failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule autosave: %w", err)
	}
	c.Start()
	a.cron = c
	a.interval = interval
	a.running = true
	a.logger.Info("autosave started", "interval", interval)
	return nil
}

// Stop cancels future firings. A save already in progress completes.
func (a *Autosaver) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	c := a.cron
	a.cron = nil
	a.running = false
	a.mu.Unlock()

	<-c.Stop().Done()
	a.logger.Info("autosave stopped")
}

// Restart stops the current schedule and starts a new one with interval.
func (a *Autosaver) Restart(ctx context.Context, interval time.Duration) error {
	a.Stop()
	return a.Start(ctx, interval)
}

// Running reports whether a schedule is active.
func (a *Autosaver) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// NextRun returns the next scheduled firing, or nil when stopped.
func (a *Autosaver) NextRun() *time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cron == nil {
		return nil
	}
	entries := a.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

// RunOnce saves the current draft. saved is false when the source had none.
func (a *Autosaver) RunOnce(ctx context.Context) (models.CaseRecord, bool, error) {
	draft, ok, err := a.source.Draft(ctx)
	if err != nil {
		return models.CaseRecord{}, false, fmt.Errorf("read draft: %w", err)
	}
	if !ok {
		a.logger.Debug("no draft to autosave")
		return models.CaseRecord{}, false, nil
	}

	a.mu.Lock()
	if draft.ID == "" && a.lastID != "" && draft.Category == a.lastCat {
		draft.ID = a.lastID
	}
	a.mu.Unlock()

	saved, outcome, err := a.repo.Save(ctx, draft)
	if err != nil {
		return models.CaseRecord{}, false, err
	}

	a.mu.Lock()
	a.lastID = saved.ID
	a.lastCat = saved.Category
	a.mu.Unlock()

	a.logger.Debug("draft autosaved", "id", saved.ID, "outcome", outcome)
	if a.onSaved != nil {
		a.onSaved(saved, outcome)
	}
	return saved, true, nil
}
