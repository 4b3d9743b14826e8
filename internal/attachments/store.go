// Package attachments stores attachment payloads apart from the case
// records that reference them.
package attachments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"casekeeper/internal/apperr"
	"casekeeper/internal/models"
	"casekeeper/internal/storage"
)

const (
	// MaxAttachmentBytes is the largest payload SaveAttachment accepts.
	MaxAttachmentBytes = 5 << 20

	fallbackMediaType = "application/octet-stream"
	sniffLen          = 512
)

// File is an attachment upload.
type File struct {
	Name      string
	MediaType string
	// Size is the declared length; negative or zero means unknown.
	Size    int64
	Content io.Reader
}

// Loaded pairs attachment metadata with its payload. Found is false when
// the payload could not be resolved.
type Loaded struct {
	Meta  models.AttachmentMetadata
	Data  []byte
	Found bool
}

// Store persists attachment payloads through a storage.KV.
type Store struct {
	kv      storage.KV
	pool    *ants.Pool
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
	allowed map[string]struct{}

	// indexMu serialises read-modify-write of per-case index keys.
	indexMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store) error

// WithWorkers sets the size of the load worker pool.
func WithWorkers(n int) Option {
	return func(s *Store) error {
		if n <= 0 {
			return nil
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return fmt.Errorf("create load pool: %w", err)
		}
		if s.pool != nil {
			s.pool.Release()
		}
		s.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) error {
		if now != nil {
			s.now = now
		}
		return nil
	}
}

// WithIDGenerator overrides attachment id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) error {
		if fn != nil {
			s.newID = fn
		}
		return nil
	}
}

// WithAllowedMediaTypes restricts uploads to the listed media types. An
// empty list allows everything.
func WithAllowedMediaTypes(types ...string) Option {
	return func(s *Store) error {
		allowed := map[string]struct{}{}
		for _, raw := range types {
			mediaType, err := normalizeMediaType(raw)
			if err != nil || mediaType == "" {
				continue
			}
			allowed[mediaType] = struct{}{}
		}
		if len(allowed) == 0 {
			allowed = nil
		}
		s.allowed = allowed
		return nil
	}
}

// New constructs a Store. Call Release when done to stop the worker pool.
func New(kv storage.KV, opts ...Option) (*Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("storage is required")
	}
	s := &Store{
		kv:     kv,
		logger: slog.Default().With("component", "attachments"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			s.Release()
			return nil, err
		}
	}
	if s.pool == nil {
		size := runtime.NumCPU() / 2
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return nil, fmt.Errorf("create load pool: %w", err)
		}
		s.pool = pool
	}
	return s, nil
}

// Release stops the worker pool.
func (s *Store) Release() {
	if s.pool != nil {
		s.pool.Release()
	}
}

// SaveAttachment persists f for caseID and returns its metadata. Payloads
// over MaxAttachmentBytes are rejected before anything is written.
func (s *Store) SaveAttachment(ctx context.Context, caseID string, f File) (models.AttachmentMetadata, error) {
	var zero models.AttachmentMetadata
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		return zero, apperr.ValidationCode(fmt.Errorf("case id is required"), apperr.CodeMissingRequired)
	}
	if f.Content == nil {
		return zero, apperr.ValidationCode(fmt.Errorf("attachment content is required"), apperr.CodeMissingRequired)
	}
	if f.Size > MaxAttachmentBytes {
		return zero, tooLarge(f.Size)
	}

	data, err := io.ReadAll(io.LimitReader(f.Content, MaxAttachmentBytes+1))
	if err != nil {
		return zero, fmt.Errorf("read attachment: %w", err)
	}
	if len(data) > MaxAttachmentBytes {
		return zero, tooLarge(int64(len(data)))
	}

	mediaType, err := s.resolveMediaType(f.MediaType, data)
	if err != nil {
		return zero, err
	}

	id := s.newID()
	key := storage.AttachmentKey(caseID, id)
	name := strings.TrimSpace(f.Name)
	if name == "" {
		name = id
	}
	meta := models.AttachmentMetadata{
		ID:        id,
		Name:      name,
		Size:      int64(len(data)),
		MediaType: mediaType,
		Kind:      models.KindForMediaType(mediaType),
		DataKey:   key,
		AddedAt:   s.now(),
	}

	if err := s.kv.Put(ctx, key, data); err != nil {
		return zero, fmt.Errorf("store attachment %s: %w", id, err)
	}
	if err := s.updateIndex(ctx, caseID, func(ids []string) []string { return append(ids, id) }); err != nil {
		if delErr := s.kv.Delete(ctx, key); delErr != nil {
			s.logger.Warn("rollback attachment payload failed", "key", key, "error", delErr)
		}
		return zero, fmt.Errorf("index attachment %s: %w", id, err)
	}

	s.logger.Debug("attachment saved", "case_id", caseID, "id", id, "size", meta.Size, "media_type", mediaType)
	return meta, nil
}

func tooLarge(size int64) error {
	return apperr.ValidationCode(
		fmt.Errorf("attachment is %d bytes; limit is %d", size, MaxAttachmentBytes),
		apperr.CodeAttachmentTooLarge,
	)
}

func (s *Store) resolveMediaType(declared string, data []byte) (string, error) {
	mediaType, err := normalizeMediaType(declared)
	if err != nil {
		return "", err
	}
	if mediaType == "" {
		head := data
		if len(head) > sniffLen {
			head = head[:sniffLen]
		}
		mediaType, _ = normalizeMediaType(http.DetectContentType(head))
	}
	if mediaType == "" {
		mediaType = fallbackMediaType
	}
	if len(s.allowed) > 0 {
		if _, ok := s.allowed[mediaType]; !ok {
			return "", apperr.ValidationCode(fmt.Errorf("media type %s is not allowed", mediaType), apperr.CodeInvalidArgument)
		}
	}
	return mediaType, nil
}

func normalizeMediaType(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	parsed, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", apperr.ValidationCode(fmt.Errorf("invalid media type %q", raw), apperr.CodeInvalidArgument)
	}
	return strings.ToLower(strings.TrimSpace(parsed)), nil
}

// LoadAttachments fetches every payload concurrently. Results keep the order
// of metas; payloads that cannot be read are reported with Found=false.
func (s *Store) LoadAttachments(ctx context.Context, metas []models.AttachmentMetadata) ([]Loaded, error) {
	out := make([]Loaded, len(metas))
	var wg sync.WaitGroup
	for i, meta := range metas {
		out[i].Meta = meta
		if meta.DataKey == "" {
			continue
		}
		wg.Add(1)
		if err := s.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			data, found, err := s.kv.Get(ctx, meta.DataKey)
			if err != nil {
				s.logger.Warn("attachment unreadable", "key", meta.DataKey, "error", err)
				return
			}
			if found {
				out[i].Data = data
				out[i].Found = true
			}
		}); err != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("schedule attachment load: %w", err)
		}
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Open returns one payload.
func (s *Store) Open(ctx context.Context, meta models.AttachmentMetadata) ([]byte, error) {
	data, found, err := s.kv.Get(ctx, meta.DataKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFoundCode(fmt.Errorf("attachment %s not found", meta.ID), apperr.CodeAttachmentNotFound)
	}
	return data, nil
}

// Reader is Open wrapped in an io.Reader.
func (s *Store) Reader(ctx context.Context, meta models.AttachmentMetadata) (io.Reader, error) {
	data, err := s.Open(ctx, meta)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// DeleteAttachmentsForCase removes every payload referenced by metas or
// listed in the case index, then clears the index. Missing payloads are
// not an error.
func (s *Store) DeleteAttachmentsForCase(ctx context.Context, caseID string, metas []models.AttachmentMetadata) error {
	keys := map[string]struct{}{}
	for _, meta := range metas {
		if meta.DataKey != "" {
			keys[meta.DataKey] = struct{}{}
		}
	}
	ids, err := s.ListIndexed(ctx, caseID)
	if err != nil {
		s.logger.Warn("attachment index unreadable", "case_id", caseID, "error", err)
	}
	for _, id := range ids {
		keys[storage.AttachmentKey(caseID, id)] = struct{}{}
	}

	var errs []error
	for key := range keys {
		if err := s.kv.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	if len(errs) > 0 {
		// Keep the index so a retry can still find the leftovers.
		return errors.Join(errs...)
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if err := s.kv.Delete(ctx, storage.AttachmentIndexKey(caseID)); err != nil {
		return fmt.Errorf("clear attachment index: %w", err)
	}
	s.logger.Debug("attachments deleted for case", "case_id", caseID, "count", len(keys))
	return nil
}

// DeleteAttachments removes the listed payloads and drops them from the
// case index.
func (s *Store) DeleteAttachments(ctx context.Context, caseID string, metas []models.AttachmentMetadata) error {
	if len(metas) == 0 {
		return nil
	}
	removed := map[string]struct{}{}
	var errs []error
	for _, meta := range metas {
		if meta.DataKey != "" {
			if err := s.kv.Delete(ctx, meta.DataKey); err != nil {
				errs = append(errs, fmt.Errorf("delete %s: %w", meta.DataKey, err))
				continue
			}
		}
		removed[meta.ID] = struct{}{}
	}
	if err := s.updateIndex(ctx, caseID, func(ids []string) []string {
		kept := ids[:0]
		for _, id := range ids {
			if _, ok := removed[id]; !ok {
				kept = append(kept, id)
			}
		}
		return kept
	}); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ListIndexed returns the attachment ids recorded for caseID.
func (s *Store) ListIndexed(ctx context.Context, caseID string) ([]string, error) {
	raw, found, err := s.kv.Get(ctx, storage.AttachmentIndexKey(caseID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, apperr.Parse(fmt.Errorf("decode attachment index for %s: %w", caseID, err))
	}
	return ids, nil
}

func (s *Store) updateIndex(ctx context.Context, caseID string, mutate func([]string) []string) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	ids, err := s.ListIndexed(ctx, caseID)
	if err != nil {
		return err
	}
	ids = mutate(ids)
	key := storage.AttachmentIndexKey(caseID)
	if len(ids) == 0 {
		return s.kv.Delete(ctx, key)
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, key, raw)
}
