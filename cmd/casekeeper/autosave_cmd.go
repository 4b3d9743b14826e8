package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"casekeeper/internal/config"
	"casekeeper/internal/models"
	"casekeeper/internal/repository"
)

// fileDraft reads a draft record from a JSON file and reports it only when
// the file changed since the last read.
type fileDraft struct {
	path string

	mu      sync.Mutex
	modTime time.Time
}

func (d *fileDraft) Draft(_ context.Context) (models.CaseRecord, bool, error) {
	info, err := os.Stat(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.CaseRecord{}, false, nil
	}
	if err != nil {
		return models.CaseRecord{}, false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !info.ModTime().After(d.modTime) {
		return models.CaseRecord{}, false, nil
	}
	rec, err := readRecordFile(d.path)
	if err != nil {
		return models.CaseRecord{}, false, err
	}
	d.modTime = info.ModTime()
	return rec, true, nil
}

var _ repository.DraftSource = (*fileDraft)(nil)

func newAutosaveCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	var (
		draftPath string
		interval  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "autosave",
		Short: "Save a draft record file periodically until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, cfg, func(a *app) error {
				every := interval
				if every <= 0 {
					every = a.repo.Settings().AutosaveInterval()
				}
				saver := repository.NewAutosaver(a.repo, &fileDraft{path: draftPath},
					repository.OnSaved(func(rec models.CaseRecord, outcome repository.SaveOutcome) {
						if out.structured() {
							_ = writeJSON(saveResult{Outcome: outcome, Record: rec})
							return
						}
						_ = writePlain("%s %s\n", outcome, formatCaseLine(rec))
					}),
				)
				if err := saver.Start(ctx, every); err != nil {
					return err
				}
				<-ctx.Done()
				saver.Stop()
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&draftPath, "draft", "", "JSON file holding the draft record")
	cmd.Flags().DurationVar(&interval, "interval", 0, "save period; defaults to the autosave_seconds setting")
	_ = cmd.MarkFlagRequired("draft")
	return cmd
}
