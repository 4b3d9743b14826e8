package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"casekeeper/internal/apperr"
	"casekeeper/internal/attachments"
	"casekeeper/internal/config"
	"casekeeper/internal/models"
)

func newAttachCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Manage attachments of a case record",
	}
	cmd.PersistentFlags().StringVar(&category, "category", "", "record category")

	cmd.AddCommand(
		newAttachAddCmd(cfg, out, &category),
		newAttachGetCmd(cfg, &category),
		newAttachListCmd(cfg, out, &category),
		newAttachRemoveCmd(cfg, out, &category),
		newAttachGCCmd(cfg, out),
	)
	return cmd
}

// loadCase resolves the record an attachment command targets.
func loadCase(a *app, id, rawCategory string) (models.CaseRecord, error) {
	category, err := categoryFlag(rawCategory)
	if err != nil {
		return models.CaseRecord{}, apperr.ValidationCode(err, apperr.CodeInvalidCategory)
	}
	return a.repo.Get(id, category)
}

func newAttachAddCmd(cfg *config.Config, out *outputFlags, category *string) *cobra.Command {
	var (
		name      string
		mediaType string
	)

	cmd := &cobra.Command{
		Use:   "add <case-id> <file>",
		Short: "Attach a file (at most 5 MiB) to a case record",
		Args:  requireExactlyArgs(2, "case id and file path are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg, func(a *app) error {
				rec, err := loadCase(a, args[0], *category)
				if err != nil {
					return err
				}
				meta, err := addAttachment(cmd.Context(), a, rec, args[1], name, mediaType)
				if err != nil {
					return err
				}
				if out.structured() {
					return writeJSON(meta)
				}
				return writePlain("attached %s\n", formatAttachmentLine(meta))
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name; defaults to the file name")
	cmd.Flags().StringVar(&mediaType, "type", "", "media type; sniffed from content when empty")
	return cmd
}

// addAttachment stores the payload and then records its metadata. The
// payload is removed again when the record update fails.
func addAttachment(ctx context.Context, a *app, rec models.CaseRecord, path, name, mediaType string) (models.AttachmentMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.AttachmentMetadata{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.AttachmentMetadata{}, err
	}
	if name == "" {
		name = filepath.Base(path)
	}

	meta, err := a.att.SaveAttachment(ctx, rec.ID, attachments.File{
		Name:      name,
		MediaType: mediaType,
		Size:      info.Size(),
		Content:   f,
	})
	if err != nil {
		return meta, err
	}

	rec.Attachments = append(rec.Attachments, meta)
	if _, _, err := a.repo.Save(ctx, rec); err != nil {
		if rbErr := a.att.DeleteAttachments(ctx, rec.ID, []models.AttachmentMetadata{meta}); rbErr != nil {
			return meta, fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return meta, err
	}
	return meta, nil
}

func newAttachGetCmd(cfg *config.Config, category *string) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "get <case-id> <attachment-id>",
		Short: "Write an attachment payload to stdout or a file",
		Args:  requireExactlyArgs(2, "case id and attachment id are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg, func(a *app) error {
				rec, err := loadCase(a, args[0], *category)
				if err != nil {
					return err
				}
				idx := slices.IndexFunc(rec.Attachments, func(m models.AttachmentMetadata) bool {
					return m.ID == args[1]
				})
				if idx < 0 {
					return apperr.NotFoundCode(fmt.Errorf("attachment %s not found on case %s", args[1], rec.ID), apperr.CodeAttachmentNotFound)
				}
				r, err := a.att.Reader(cmd.Context(), rec.Attachments[idx])
				if err != nil {
					return err
				}
				var w io.Writer = os.Stdout
				if outPath != "" {
					f, err := os.Create(outPath)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				_, err = io.Copy(w, r)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file; stdout when empty")
	return cmd
}

type attachmentStatus struct {
	models.AttachmentMetadata
	Present bool `json:"present"`
}

func newAttachListCmd(cfg *config.Config, out *outputFlags, category *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list <case-id>",
		Short: "List attachments and whether their payloads are present",
		Args:  requireExactlyArgs(1, "case id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg, func(a *app) error {
				rec, err := loadCase(a, args[0], *category)
				if err != nil {
					return err
				}
				loaded, err := a.att.LoadAttachments(cmd.Context(), rec.Attachments)
				if err != nil {
					return err
				}
				statuses := make([]attachmentStatus, 0, len(loaded))
				for _, l := range loaded {
					statuses = append(statuses, attachmentStatus{AttachmentMetadata: l.Meta, Present: l.Found})
				}
				if out.structured() {
					return writeJSON(statuses)
				}
				for _, st := range statuses {
					line := formatAttachmentLine(st.AttachmentMetadata)
					if !st.Present {
						line += " (missing)"
					}
					if err := writePlain("%s\n", line); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newAttachRemoveCmd(cfg *config.Config, out *outputFlags, category *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <case-id> <attachment-id>...",
		Short: "Detach attachments from a case record and delete their payloads",
		Args:  requireAtLeastArgs(2, "case id and at least one attachment id are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg, func(a *app) error {
				rec, err := loadCase(a, args[0], *category)
				if err != nil {
					return err
				}
				drop := args[1:]
				kept := rec.Attachments[:0:0]
				for _, meta := range rec.Attachments {
					if !slices.Contains(drop, meta.ID) {
						kept = append(kept, meta)
					}
				}
				if removed := len(rec.Attachments) - len(kept); removed != len(drop) {
					return apperr.NotFoundCode(fmt.Errorf("case %s has %d of %d named attachments", rec.ID, removed, len(drop)), apperr.CodeAttachmentNotFound)
				}
				rec.Attachments = kept
				if _, _, err := a.repo.Save(cmd.Context(), rec); err != nil {
					return err
				}
				if out.structured() {
					return writeJSON(map[string][]string{"removed": drop})
				}
				return writePlain("removed %d attachment(s) from %s\n", len(drop), rec.ID)
			})
		},
	}
}

func newAttachGCCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	var apply bool

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Find attachment payloads no record or snapshot references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg, func(a *app) error {
				live := a.repo.Snapshot().DataKeys()
				retained, err := a.backups.ReferencedDataKeys(cmd.Context())
				if err != nil {
					return err
				}
				result, err := a.att.CollectGarbage(cmd.Context(), append(live, retained...), apply)
				if err != nil {
					return err
				}
				if out.structured() {
					return writeJSON(result)
				}
				verb := "would reclaim"
				if apply {
					verb = "reclaimed"
				}
				return writePlain("%d orphaned payload(s); %s %s\n", result.CandidateCount, verb, formatBytes(result.ReclaimedBytes))
			})
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "delete the orphaned payloads")
	return cmd
}
