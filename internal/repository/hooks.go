package repository

import (
	"context"

	"casekeeper/internal/models"
)

// SaveOutcome reports whether Save inserted or replaced a record.
type SaveOutcome string

const (
	OutcomeInserted SaveOutcome = "inserted"
	OutcomeUpdated  SaveOutcome = "updated"
)

// Hook is an extension point run around repository mutations.
//
// PreSave may adjust the record and aborts the save by returning an error.
// PostSave and PostDelete errors are logged and never fail the operation.
// prev is nil when the save inserted a new record.
type Hook struct {
	Name       string
	PreSave    func(ctx context.Context, rec *models.CaseRecord) error
	PostSave   func(ctx context.Context, prev *models.CaseRecord, saved models.CaseRecord) error
	PostDelete func(ctx context.Context, deleted models.CaseRecord) error
}

// Cascade removes attachment payloads when their owning records go away.
type Cascade interface {
	DeleteAttachmentsForCase(ctx context.Context, caseID string, metas []models.AttachmentMetadata) error
	DeleteAttachments(ctx context.Context, caseID string, metas []models.AttachmentMetadata) error
}

// RetainedKeys lists attachment payload keys that are still needed outside
// the live state, typically by stored snapshots.
type RetainedKeys func(ctx context.Context) ([]string, error)
