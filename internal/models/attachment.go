package models

import (
	"fmt"
	"strings"
	"time"
)

// AttachmentKind is the coarse tag derived from an attachment's media type.
type AttachmentKind string

const (
	AttachmentKindImage    AttachmentKind = "image"
	AttachmentKindPDF      AttachmentKind = "pdf"
	AttachmentKindDocument AttachmentKind = "document"
	AttachmentKindOther    AttachmentKind = "other"
)

// AttachmentMetadata describes a stored payload without embedding it.
type AttachmentMetadata struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Size      int64          `json:"size"`
	MediaType string         `json:"type"`
	Kind      AttachmentKind `json:"kind,omitempty"`
	DataKey   string         `json:"dataKey"`
	AddedAt   time.Time      `json:"addedAt,omitempty"`
}

func (a AttachmentMetadata) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("attachment id is required")
	}
	if strings.TrimSpace(a.DataKey) == "" {
		return fmt.Errorf("attachment %s has no dataKey", a.ID)
	}
	if a.Size < 0 {
		return fmt.Errorf("attachment %s has negative size", a.ID)
	}
	return nil
}

// KindForMediaType maps a normalized media type to an AttachmentKind.
func KindForMediaType(mediaType string) AttachmentKind {
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return AttachmentKindImage
	case mediaType == "application/pdf":
		return AttachmentKindPDF
	case strings.HasPrefix(mediaType, "text/"),
		mediaType == "application/msword",
		strings.HasPrefix(mediaType, "application/vnd.openxmlformats-officedocument"),
		strings.HasPrefix(mediaType, "application/vnd.oasis.opendocument"):
		return AttachmentKindDocument
	default:
		return AttachmentKindOther
	}
}
