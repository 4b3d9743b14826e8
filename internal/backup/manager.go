// Package backup captures and restores whole-repository snapshots.
package backup

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"casekeeper/internal/apperr"
	"casekeeper/internal/models"
	"casekeeper/internal/repository"
	"casekeeper/internal/storage"
)

// IDLayout formats the timestamp part of snapshot ids.
const IDLayout = "20060102T150405.000000000Z"

// Manager creates, lists, restores and deletes snapshots.
type Manager struct {
	kv     storage.KV
	repo   *repository.Repository
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(kv storage.KV, repo *repository.Repository, opts ...Option) *Manager {
	m := &Manager{
		kv:     kv,
		repo:   repo,
		logger: slog.Default().With("component", "backup"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSnapshot stores the current repository state under a new
// timestamp-derived id and returns its summary.
func (m *Manager) CreateSnapshot(ctx context.Context) (models.SnapshotInfo, error) {
	state := m.repo.Snapshot()
	createdAt := m.now().UTC()

	id, err := m.freeID(ctx, createdAt.Format(IDLayout))
	if err != nil {
		return models.SnapshotInfo{}, err
	}

	snap := models.Snapshot{
		Version:   models.SnapshotVersion,
		ID:        id,
		CreatedAt: createdAt,
		Cases:     state.Cases,
		Counter:   state.Counter,
		Settings:  state.Settings,
	}
	digest, err := Digest(snap)
	if err != nil {
		return models.SnapshotInfo{}, err
	}
	snap.Digest = digest

	raw, err := json.Marshal(snap)
	if err != nil {
		return models.SnapshotInfo{}, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := m.kv.Put(ctx, storage.SnapshotKey(id), raw); err != nil {
		return models.SnapshotInfo{}, fmt.Errorf("store snapshot %s: %w", id, err)
	}

	info := models.SnapshotInfo{ID: id, CreatedAt: createdAt, SizeBytes: int64(len(raw)), RecordCount: snap.RecordCount()}
	m.logger.Info("snapshot created", "id", id, "records", info.RecordCount, "bytes", info.SizeBytes)
	return info, nil
}

// freeID returns base, or base with the smallest "-N" suffix not yet taken.
func (m *Manager) freeID(ctx context.Context, base string) (string, error) {
	id := base
	for n := 2; ; n++ {
		_, found, err := m.kv.Get(ctx, storage.SnapshotKey(id))
		if err != nil {
			return "", fmt.Errorf("check snapshot id: %w", err)
		}
		if !found {
			return id, nil
		}
		id = base + "-" + strconv.Itoa(n)
	}
}

// Digest returns the hex BLAKE2b-256 of snap encoded without its digest.
func Digest(snap models.Snapshot) (string, error) {
	snap.Digest = ""
	raw, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// ListSnapshots returns every snapshot, newest first.
func (m *Manager) ListSnapshots(ctx context.Context) ([]models.SnapshotInfo, error) {
	keys, err := m.kv.List(ctx, storage.SnapshotKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := make([]models.SnapshotInfo, 0, len(keys))
	for _, key := range keys {
		raw, found, err := m.kv.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		if !found {
			continue
		}
		id := strings.TrimPrefix(key, storage.SnapshotKeyPrefix)
		info := models.SnapshotInfo{ID: id, SizeBytes: int64(len(raw)), RecordCount: -1}
		var snap models.Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			m.logger.Warn("unreadable snapshot", "id", id, "error", err)
			if ts, perr := time.Parse(IDLayout, strings.SplitN(id, "-", 2)[0]); perr == nil {
				info.CreatedAt = ts
			}
		} else {
			info.CreatedAt = snap.CreatedAt
			info.RecordCount = snap.RecordCount()
		}
		out = append(out, info)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Load reads and verifies one snapshot.
func (m *Manager) Load(ctx context.Context, id string) (models.Snapshot, error) {
	id = strings.TrimSpace(id)
	raw, found, err := m.kv.Get(ctx, storage.SnapshotKey(id))
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("read snapshot %s: %w", id, err)
	}
	if !found {
		return models.Snapshot{}, apperr.NotFoundCode(fmt.Errorf("snapshot %s not found", id), apperr.CodeSnapshotNotFound)
	}
	return decodeSnapshot(raw)
}

func decodeSnapshot(raw []byte) (models.Snapshot, error) {
	var snap models.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return models.Snapshot{}, apperr.Parse(fmt.Errorf("decode snapshot: %w", err))
	}
	if snap.Version > models.SnapshotVersion {
		return models.Snapshot{}, apperr.Parsef("snapshot version %d is newer than supported %d", snap.Version, models.SnapshotVersion)
	}
	if snap.Digest != "" {
		want, err := Digest(snap)
		if err != nil {
			return models.Snapshot{}, err
		}
		if want != snap.Digest {
			return models.Snapshot{}, apperr.ParseCode(fmt.Errorf("snapshot %s digest mismatch", snap.ID), apperr.CodeDigestMismatch)
		}
	}
	return snap, nil
}

// RestoreSnapshot replaces the repository with the snapshot's contents in a
// single write. The counter never decreases. Attachments of records the
// restore drops go through the repository cascade.
func (m *Manager) RestoreSnapshot(ctx context.Context, id string) (models.SnapshotInfo, error) {
	snap, err := m.Load(ctx, id)
	if err != nil {
		return models.SnapshotInfo{}, err
	}

	st := repository.State{
		Cases:    make(map[models.Category][]models.CaseRecord, len(models.Categories())),
		Counter:  snap.Counter,
		Settings: snap.Settings,
	}
	for _, c := range models.Categories() {
		st.Cases[c] = snap.Cases[c]
	}
	for c := range snap.Cases {
		if !models.IsValidCategory(c) {
			return models.SnapshotInfo{}, apperr.Parsef("snapshot %s has unknown category %q", id, c)
		}
	}
	if err := m.repo.ReplaceState(ctx, st); err != nil {
		return models.SnapshotInfo{}, fmt.Errorf("restore snapshot %s: %w", id, err)
	}

	m.logger.Info("snapshot restored", "id", snap.ID, "records", snap.RecordCount(), "counter", m.repo.Counter())
	return models.SnapshotInfo{ID: snap.ID, CreatedAt: snap.CreatedAt, RecordCount: snap.RecordCount()}, nil
}

// DeleteSnapshot removes one snapshot. Attachment payloads are untouched.
func (m *Manager) DeleteSnapshot(ctx context.Context, id string) error {
	key := storage.SnapshotKey(strings.TrimSpace(id))
	_, found, err := m.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return apperr.NotFoundCode(fmt.Errorf("snapshot %s not found", id), apperr.CodeSnapshotNotFound)
	}
	if err := m.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	m.logger.Info("snapshot deleted", "id", id)
	return nil
}

// Prune deletes the oldest snapshots so that at most keep remain, and
// returns the deleted ids.
func (m *Manager) Prune(ctx context.Context, keep int) ([]string, error) {
	if keep < 0 {
		return nil, apperr.Validationf("keep must not be negative")
	}
	infos, err := m.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	if len(infos) <= keep {
		return nil, nil
	}
	var deleted []string
	for _, info := range infos[keep:] {
		if err := m.kv.Delete(ctx, storage.SnapshotKey(info.ID)); err != nil {
			return deleted, fmt.Errorf("delete snapshot %s: %w", info.ID, err)
		}
		deleted = append(deleted, info.ID)
	}
	m.logger.Info("snapshots pruned", "deleted", len(deleted), "kept", keep)
	return deleted, nil
}

// ReferencedDataKeys returns every attachment key referenced by a stored
// snapshot. Unreadable snapshots are skipped.
func (m *Manager) ReferencedDataKeys(ctx context.Context) ([]string, error) {
	return referencedDataKeys(ctx, m.kv, m.logger)
}

// RetainSnapshotKeys reports the attachment keys held by snapshots in kv, so
// a repository replace or restore never deletes payloads a later restore
// still needs.
func RetainSnapshotKeys(kv storage.KV) repository.RetainedKeys {
	logger := slog.Default().With("component", "backup")
	return func(ctx context.Context) ([]string, error) {
		return referencedDataKeys(ctx, kv, logger)
	}
}

func referencedDataKeys(ctx context.Context, kv storage.KV, logger *slog.Logger) ([]string, error) {
	keys, err := kv.List(ctx, storage.SnapshotKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	seen := map[string]struct{}{}
	for _, key := range keys {
		raw, found, err := kv.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		if !found {
			continue
		}
		var snap models.Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			logger.Warn("skipping unreadable snapshot", "key", key, "error", err)
			continue
		}
		for _, records := range snap.Cases {
			for _, rec := range records {
				for _, dk := range rec.DataKeys() {
					seen[dk] = struct{}{}
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
