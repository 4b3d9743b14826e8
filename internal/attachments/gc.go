package attachments

import (
	"context"
	"fmt"
	"strings"

	"casekeeper/internal/models"
	"casekeeper/internal/repository"
	"casekeeper/internal/storage"
)

// GCResult reports one garbage collection run.
type GCResult struct {
	CandidateCount int      `json:"candidate_count"`
	DeletedCount   int      `json:"deleted_count"`
	FailedCount    int      `json:"failed_count"`
	ReclaimedBytes int64    `json:"reclaimed_bytes"`
	DryRun         bool     `json:"dry_run"`
	Keys           []string `json:"keys,omitempty"`
}

// CollectGarbage finds payloads whose key is not in live. With apply false
// it only reports them.
func (s *Store) CollectGarbage(ctx context.Context, live []string, apply bool) (GCResult, error) {
	result := GCResult{DryRun: !apply}
	referenced := make(map[string]struct{}, len(live))
	for _, key := range live {
		referenced[key] = struct{}{}
	}

	keys, err := s.kv.List(ctx, storage.AttachmentKeyPrefix)
	if err != nil {
		return result, fmt.Errorf("list attachments: %w", err)
	}
	for _, key := range keys {
		if _, ok := referenced[key]; ok {
			continue
		}
		data, found, err := s.kv.Get(ctx, key)
		if err != nil {
			result.FailedCount++
			continue
		}
		if !found {
			continue
		}
		result.CandidateCount++
		result.Keys = append(result.Keys, key)
		if !apply {
			result.ReclaimedBytes += int64(len(data))
			continue
		}
		if err := s.kv.Delete(ctx, key); err != nil {
			result.FailedCount++
			continue
		}
		result.DeletedCount++
		result.ReclaimedBytes += int64(len(data))
		s.unindex(ctx, key)
	}
	s.logger.Info("attachment gc finished",
		"candidates", result.CandidateCount,
		"deleted", result.DeletedCount,
		"failed", result.FailedCount,
		"dry_run", result.DryRun,
	)
	return result, nil
}

// unindex drops a swept key from its case index. Attachment ids never
// contain an underscore, so the last one separates case id and attachment id.
func (s *Store) unindex(ctx context.Context, key string) {
	rest := strings.TrimPrefix(key, storage.AttachmentKeyPrefix)
	cut := strings.LastIndex(rest, "_")
	if cut <= 0 {
		return
	}
	caseID, attID := rest[:cut], rest[cut+1:]
	if err := s.updateIndex(ctx, caseID, func(ids []string) []string {
		kept := ids[:0]
		for _, id := range ids {
			if id != attID {
				kept = append(kept, id)
			}
		}
		return kept
	}); err != nil {
		s.logger.Warn("attachment index cleanup failed", "case_id", caseID, "error", err)
	}
}

// PruneRemovedHook deletes payloads that an update dropped from a record.
func (s *Store) PruneRemovedHook() repository.Hook {
	return repository.Hook{
		Name: "attachments.prune-removed",
		PostSave: func(ctx context.Context, prev *models.CaseRecord, saved models.CaseRecord) error {
			if prev == nil {
				return nil
			}
			kept := make(map[string]struct{}, len(saved.Attachments))
			for _, a := range saved.Attachments {
				kept[a.DataKey] = struct{}{}
			}
			var removed []models.AttachmentMetadata
			for _, a := range prev.Attachments {
				if _, ok := kept[a.DataKey]; !ok {
					removed = append(removed, a)
				}
			}
			return s.DeleteAttachments(ctx, saved.ID, removed)
		},
	}
}

var _ repository.Cascade = (*Store)(nil)
