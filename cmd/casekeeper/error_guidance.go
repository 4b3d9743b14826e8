package main

import (
	"context"
	"errors"

	"casekeeper/internal/apperr"
	"casekeeper/internal/attachments"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		lines = append(lines, "hint: the operation was interrupted before it finished; nothing partial was stored.")
		return uniqueLines(lines)
	}

	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		switch apperr.CodeOf(err) {
		case apperr.CodeAttachmentTooLarge:
			lines = append(lines, "hint: attachments are limited to "+formatBytes(attachments.MaxAttachmentBytes)+"; compress or split the file.")
		case apperr.CodeInvalidCategory:
			lines = append(lines, "hint: run with --category set to one of the fixed categories.")
		case apperr.CodeInvalidStrategy:
			lines = append(lines, "hint: use --strategy merge or --strategy replace.")
		}
	case apperr.KindNotFound:
		switch apperr.CodeOf(err) {
		case apperr.CodeSnapshotNotFound:
			lines = append(lines, "hint: list available snapshots with: casekeeper backup list")
		case apperr.CodeCaseNotFound:
			lines = append(lines, "hint: list records with: casekeeper case list --category <category>")
		}
	case apperr.KindParse:
		if apperr.CodeOf(err) == apperr.CodeDigestMismatch {
			lines = append(lines, "hint: the snapshot was modified after it was written; restore a different one.")
		} else {
			lines = append(lines, "hint: the document is not valid casekeeper JSON; check it with a JSON validator.")
		}
	case apperr.KindQuotaExceeded:
		lines = append(lines,
			"hint: free space by pruning snapshots: casekeeper backup prune --keep <n>",
			"hint: reclaim orphaned attachment data with: casekeeper attach gc --apply",
		)
	case apperr.KindBackendUnavailable:
		lines = append(lines, "hint: check storage with: casekeeper storage status")
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
