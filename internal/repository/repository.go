package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"casekeeper/internal/apperr"
	"casekeeper/internal/models"
	"casekeeper/internal/storage"
)

// ScopeAll selects every category in FindByField.
const ScopeAll = "all"

// Repository holds case records partitioned by category.
type Repository struct {
	kv       storage.KV
	cascade  Cascade
	retained RetainedKeys
	hooks    []Hook
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	state State
}

// Option configures a Repository.
type Option func(*Repository)

// WithCascade sets the attachment cascade run by Delete.
func WithCascade(c Cascade) Option {
	return func(r *Repository) {
		r.cascade = c
	}
}

// WithRetainedKeys sets the source of attachment keys that must survive
// records dropped by ReplaceState or Update.
func WithRetainedKeys(fn RetainedKeys) Option {
	return func(r *Repository) {
		r.retained = fn
	}
}

// WithHooks appends hooks in the order given.
func WithHooks(hooks ...Hook) Option {
	return func(r *Repository) {
		r.hooks = append(r.hooks, hooks...)
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// Open loads the repository state stored in kv.
func Open(ctx context.Context, kv storage.KV, opts ...Option) (*Repository, error) {
	if kv == nil {
		return nil, fmt.Errorf("storage is required")
	}
	r := &Repository{
		kv:     kv,
		logger: slog.Default().With("component", "repository"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}

	st, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	r.state = st
	return r, nil
}

func (r *Repository) load(ctx context.Context) (State, error) {
	st := emptyState()

	for _, c := range models.Categories() {
		raw, found, err := r.kv.Get(ctx, storage.CasesKey(string(c)))
		if err != nil {
			return st, fmt.Errorf("load %s: %w", c, err)
		}
		if !found {
			continue
		}
		var records []models.CaseRecord
		if err := json.Unmarshal(raw, &records); err != nil {
			return st, apperr.Parse(fmt.Errorf("decode %s records: %w", c, err))
		}
		for i := range records {
			records[i].Category = c
			records[i].Normalize()
		}
		deduped, dropped := DedupeByID(records)
		if dropped > 0 {
			r.logger.Warn("dropped duplicate case ids on load", "category", c, "dropped", dropped)
		}
		st.Cases[c] = deduped
	}

	raw, found, err := r.kv.Get(ctx, storage.CounterKey)
	if err != nil {
		return st, fmt.Errorf("load counter: %w", err)
	}
	if found {
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return st, apperr.Parse(fmt.Errorf("decode counter: %w", err))
		}
		st.Counter = n
	}

	raw, found, err = r.kv.Get(ctx, storage.SettingsKey)
	if err != nil {
		return st, fmt.Errorf("load settings: %w", err)
	}
	if found {
		var settings models.Settings
		if err := json.Unmarshal(raw, &settings); err != nil {
			return st, apperr.Parse(fmt.Errorf("decode settings: %w", err))
		}
		st.Settings = settings.WithDefaults()
	}
	return st, nil
}

// Save inserts rec or replaces the record with the same id in its category.
// A record without an id receives one minted from the counter.
func (r *Repository) Save(ctx context.Context, rec models.CaseRecord) (models.CaseRecord, SaveOutcome, error) {
	rec = rec.Clone()
	rec.Normalize()
	if err := checkCategory(rec.Category); err != nil {
		return models.CaseRecord{}, "", err
	}
	for _, h := range r.hooks {
		if h.PreSave == nil {
			continue
		}
		if err := h.PreSave(ctx, &rec); err != nil {
			return models.CaseRecord{}, "", fmt.Errorf("%s: %w", h.Name, err)
		}
	}
	if err := rec.Validate(); err != nil {
		return models.CaseRecord{}, "", apperr.Validation(err)
	}

	r.mu.Lock()
	now := r.now()
	if rec.Date.IsZero() {
		rec.Date = now
	}
	rec.UpdatedAt = now

	current := r.state.Cases[rec.Category]
	next := make([]models.CaseRecord, len(current), len(current)+1)
	copy(next, current)
	counter := r.state.Counter

	var prev *models.CaseRecord
	outcome := OutcomeInserted
	if idx := indexOf(current, rec.ID); rec.ID != "" && idx >= 0 {
		old := current[idx].Clone()
		prev = &old
		next[idx] = rec
		outcome = OutcomeUpdated
	} else {
		counter++
		if rec.ID == "" {
			rec.ID = FormatCaseID(r.state.Settings, rec.Date, counter)
			for indexOf(current, rec.ID) >= 0 {
				counter++
				rec.ID = FormatCaseID(r.state.Settings, rec.Date, counter)
			}
		}
		next = append(next, rec)
	}

	entries, err := categoryEntries(map[models.Category][]models.CaseRecord{rec.Category: next})
	if err != nil {
		r.mu.Unlock()
		return models.CaseRecord{}, "", err
	}
	if counter != r.state.Counter {
		entries = append(entries, counterEntry(counter))
	}
	if err := r.kv.PutMany(ctx, entries); err != nil {
		r.mu.Unlock()
		return models.CaseRecord{}, "", fmt.Errorf("persist %s: %w", rec.Category, err)
	}
	r.state.Cases[rec.Category] = next
	r.state.Counter = counter
	r.mu.Unlock()

	r.logger.Debug("case saved", "id", rec.ID, "category", rec.Category, "outcome", outcome)
	saved := rec.Clone()
	for _, h := range r.hooks {
		if h.PostSave == nil {
			continue
		}
		if err := h.PostSave(ctx, prev, saved.Clone()); err != nil {
			r.logger.Warn("post-save hook failed", "hook", h.Name, "id", rec.ID, "error", err)
		}
	}
	return saved, outcome, nil
}

// Get returns one record.
func (r *Repository) Get(id string, category models.Category) (models.CaseRecord, error) {
	if err := checkCategory(category); err != nil {
		return models.CaseRecord{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	records := r.state.Cases[category]
	idx := indexOf(records, id)
	if idx < 0 {
		return models.CaseRecord{}, apperr.NotFoundCode(fmt.Errorf("case %s not found in %s", id, category), apperr.CodeCaseNotFound)
	}
	return records[idx].Clone(), nil
}

// List returns a category's records, most recent date first. Records with
// equal dates keep insertion order.
func (r *Repository) List(category models.Category) ([]models.CaseRecord, error) {
	if err := checkCategory(category); err != nil {
		return nil, err
	}
	r.mu.Lock()
	out := cloneRecords(r.state.Cases[category])
	r.mu.Unlock()
	sortByDateDesc(out)
	return out, nil
}

// Delete removes a record and cascades to its attachment payloads. Blob
// deletion failures are logged; the record is removed regardless.
func (r *Repository) Delete(ctx context.Context, id string, category models.Category) error {
	if err := checkCategory(category); err != nil {
		return err
	}

	r.mu.Lock()
	current := r.state.Cases[category]
	idx := indexOf(current, id)
	if idx < 0 {
		r.mu.Unlock()
		return apperr.NotFoundCode(fmt.Errorf("case %s not found in %s", id, category), apperr.CodeCaseNotFound)
	}
	deleted := current[idx].Clone()
	next := make([]models.CaseRecord, 0, len(current)-1)
	next = append(next, current[:idx]...)
	next = append(next, current[idx+1:]...)

	entries, err := categoryEntries(map[models.Category][]models.CaseRecord{category: next})
	if err == nil {
		err = r.kv.PutMany(ctx, entries)
	}
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("persist %s: %w", category, err)
	}
	r.state.Cases[category] = next
	shared := r.keysSharedWithLocked(id, category)
	r.mu.Unlock()

	r.cascadeDelete(ctx, deleted, shared)

	for _, h := range r.hooks {
		if h.PostDelete == nil {
			continue
		}
		if err := h.PostDelete(ctx, deleted.Clone()); err != nil {
			r.logger.Warn("post-delete hook failed", "hook", h.Name, "id", id, "error", err)
		}
	}
	r.logger.Debug("case deleted", "id", id, "category", category)
	return nil
}

// keysSharedWithLocked returns data keys of live records in other
// categories that reuse id. Caller holds r.mu.
func (r *Repository) keysSharedWithLocked(id string, category models.Category) map[string]struct{} {
	var shared map[string]struct{}
	for c, records := range r.state.Cases {
		if c == category {
			continue
		}
		if idx := indexOf(records, id); idx >= 0 {
			if shared == nil {
				shared = map[string]struct{}{}
			}
			for _, key := range records[idx].DataKeys() {
				shared[key] = struct{}{}
			}
		}
	}
	return shared
}

func (r *Repository) cascadeDelete(ctx context.Context, deleted models.CaseRecord, shared map[string]struct{}) {
	if r.cascade == nil {
		return
	}
	var err error
	if shared == nil {
		err = r.cascade.DeleteAttachmentsForCase(ctx, deleted.ID, deleted.Attachments)
	} else {
		// Another category still uses this case id; keep its payloads and index.
		own := make([]models.AttachmentMetadata, 0, len(deleted.Attachments))
		for _, a := range deleted.Attachments {
			if _, ok := shared[a.DataKey]; !ok {
				own = append(own, a)
			}
		}
		err = r.cascade.DeleteAttachments(ctx, deleted.ID, own)
	}
	if err != nil {
		r.logger.Warn("attachment cascade incomplete", "id", deleted.ID, "error", err)
	}
}

// FindByField scans scope (a category or ScopeAll) for records matching pred.
func (r *Repository) FindByField(scope string, pred Predicate) ([]models.CaseRecord, error) {
	categories := models.Categories()
	if scope != ScopeAll {
		c := models.Category(scope)
		if err := checkCategory(c); err != nil {
			return nil, err
		}
		categories = []models.Category{c}
	}

	var out []models.CaseRecord
	for _, c := range categories {
		records, err := r.List(c)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if pred == nil || pred(rec) {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

// Counter returns the id counter.
func (r *Repository) Counter() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Counter
}

// Counts returns the number of records per category.
func (r *Repository) Counts() map[models.Category]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Counts()
}

// Settings returns the settings document.
func (r *Repository) Settings() models.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Settings
}

// SaveSettings persists a new settings document.
func (r *Repository) SaveSettings(ctx context.Context, settings models.Settings) error {
	settings = settings.WithDefaults()
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.kv.Put(ctx, storage.SettingsKey, raw); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}
	r.state.Settings = settings
	return nil
}

// Snapshot returns a deep copy of the current state.
func (r *Repository) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// ReplaceState swaps in st for every category, the counter and the settings
// in a single write. The counter never moves backwards: the stored value is
// the larger of the current and the supplied counter.
func (r *Repository) ReplaceState(ctx context.Context, st State) error {
	return r.Update(ctx, func(State) (State, error) {
		return st, nil
	})
}

// Update hands fn a copy of the current state and persists what it returns
// in a single write, holding the repository lock from read to write so
// concurrent updates never lose each other's changes. Attachments that
// belonged to the old state and are no longer referenced by the new one
// are deleted unless a RetainedKeys source still claims them. fn must not
// call back into the Repository.
func (r *Repository) Update(ctx context.Context, fn func(State) (State, error)) error {
	r.mu.Lock()
	prev := r.state
	st, err := fn(prev.Clone())
	if err != nil {
		r.mu.Unlock()
		return err
	}
	next, err := prepareState(st)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	next.Counter = max(prev.Counter, st.Counter)

	settingsRaw, err := json.Marshal(next.Settings)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	entries, err := categoryEntries(next.Cases)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	entries = append(entries, counterEntry(next.Counter), storage.Entry{Key: storage.SettingsKey, Value: settingsRaw})
	if err := r.kv.PutMany(ctx, entries); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("persist repository: %w", err)
	}
	r.state = next
	orphaned := unreferencedAttachments(prev, next)
	r.mu.Unlock()

	r.cascadeOrphaned(ctx, orphaned)
	return nil
}

func prepareState(st State) (State, error) {
	next := emptyState()
	for c, records := range st.Cases {
		if err := checkCategory(c); err != nil {
			return State{}, err
		}
		copied := make([]models.CaseRecord, 0, len(records))
		for _, rec := range records {
			rec = rec.Clone()
			rec.Category = c
			rec.Normalize()
			if rec.ID == "" {
				return State{}, apperr.ValidationCode(fmt.Errorf("record in %s has no id", c), apperr.CodeMissingRequired)
			}
			if err := rec.Validate(); err != nil {
				return State{}, apperr.Validation(fmt.Errorf("record %s: %w", rec.ID, err))
			}
			copied = append(copied, rec)
		}
		next.Cases[c], _ = DedupeByID(copied)
	}
	next.Settings = st.Settings.WithDefaults()
	return next, nil
}

// unreferencedAttachments groups, by case id, the attachments of prev whose
// payload key no record in next still uses.
func unreferencedAttachments(prev, next State) map[string][]models.AttachmentMetadata {
	live := make(map[string]struct{})
	for _, key := range next.DataKeys() {
		live[key] = struct{}{}
	}
	var out map[string][]models.AttachmentMetadata
	for _, records := range prev.Cases {
		for _, rec := range records {
			for _, a := range rec.Attachments {
				if _, ok := live[a.DataKey]; ok {
					continue
				}
				if out == nil {
					out = map[string][]models.AttachmentMetadata{}
				}
				live[a.DataKey] = struct{}{}
				out[rec.ID] = append(out[rec.ID], a)
			}
		}
	}
	return out
}

// cascadeOrphaned deletes payloads left behind by Update. Failures are
// logged; the new state is already committed.
func (r *Repository) cascadeOrphaned(ctx context.Context, orphaned map[string][]models.AttachmentMetadata) {
	if r.cascade == nil || len(orphaned) == 0 {
		return
	}
	var retained map[string]struct{}
	if r.retained != nil {
		keys, err := r.retained(ctx)
		if err != nil {
			r.logger.Warn("retained attachment keys unavailable; leaving payloads in place", "error", err)
			return
		}
		retained = make(map[string]struct{}, len(keys))
		for _, key := range keys {
			retained[key] = struct{}{}
		}
	}

	ids := make([]string, 0, len(orphaned))
	for id := range orphaned {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		metas := make([]models.AttachmentMetadata, 0, len(orphaned[id]))
		for _, a := range orphaned[id] {
			if _, ok := retained[a.DataKey]; !ok {
				metas = append(metas, a)
			}
		}
		if len(metas) == 0 {
			continue
		}
		if err := r.cascade.DeleteAttachments(ctx, id, metas); err != nil {
			r.logger.Warn("attachment cascade incomplete", "id", id, "error", err)
			continue
		}
		r.logger.Debug("dropped attachments cascaded", "id", id, "count", len(metas))
	}
}

func categoryEntries(cases map[models.Category][]models.CaseRecord) ([]storage.Entry, error) {
	categories := make([]models.Category, 0, len(cases))
	for c := range cases {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	entries := make([]storage.Entry, 0, len(cases)+1)
	for _, c := range categories {
		records := cases[c]
		if records == nil {
			records = []models.CaseRecord{}
		}
		raw, err := json.Marshal(records)
		if err != nil {
			return nil, fmt.Errorf("encode %s records: %w", c, err)
		}
		entries = append(entries, storage.Entry{Key: storage.CasesKey(string(c)), Value: raw})
	}
	return entries, nil
}

func counterEntry(n int64) storage.Entry {
	return storage.Entry{Key: storage.CounterKey, Value: []byte(strconv.FormatInt(n, 10))}
}

func checkCategory(c models.Category) error {
	if c == "" {
		return apperr.ValidationCode(fmt.Errorf("category is required"), apperr.CodeMissingRequired)
	}
	if !models.IsValidCategory(c) {
		return apperr.ValidationCode(fmt.Errorf("invalid category: %s", c), apperr.CodeInvalidCategory)
	}
	return nil
}

func indexOf(records []models.CaseRecord, id string) int {
	for i, rec := range records {
		if rec.ID == id {
			return i
		}
	}
	return -1
}

func cloneRecords(records []models.CaseRecord) []models.CaseRecord {
	out := make([]models.CaseRecord, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	return out
}

func sortByDateDesc(records []models.CaseRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date.After(records[j].Date)
	})
}
