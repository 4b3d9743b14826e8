package storage

// Persisted key layout shared by the repository, attachment and backup layers.
const (
	CasesKeyPrefix           = "cases:"
	CounterKey               = "counter"
	SettingsKey              = "settings"
	SnapshotKeyPrefix        = "backup:"
	AttachmentKeyPrefix      = "attachment:"
	AttachmentIndexKeyPrefix = "attachment-index:"
)

// CasesKey returns the key holding one category's record array.
func CasesKey(category string) string {
	return CasesKeyPrefix + category
}

// SnapshotKey returns the key holding one snapshot document.
func SnapshotKey(id string) string {
	return SnapshotKeyPrefix + id
}

// AttachmentKey returns the blob key for one attachment of a case.
func AttachmentKey(caseID, attachmentID string) string {
	return AttachmentKeyPrefix + caseID + "_" + attachmentID
}

// AttachmentIndexKey returns the key listing a case's attachment ids.
func AttachmentIndexKey(caseID string) string {
	return AttachmentIndexKeyPrefix + caseID
}
