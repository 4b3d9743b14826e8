package apperr

const (
	// Validation (1xxx)
	CodeInvalidArgument    = 1000
	CodeMissingRequired    = 1001
	CodeInvalidCategory    = 1002
	CodeAttachmentTooLarge = 1003
	CodeInvalidStrategy    = 1004

	// Not found (2xxx)
	CodeNotFound           = 2000
	CodeCaseNotFound       = 2001
	CodeAttachmentNotFound = 2002
	CodeSnapshotNotFound   = 2003

	// Documents (3xxx)
	CodeMalformedDocument = 3000
	CodeDigestMismatch    = 3001

	// Storage (4xxx)
	CodeBackendUnavailable = 4001
	CodeQuotaExceeded      = 4002
)
