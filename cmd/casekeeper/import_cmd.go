package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"casekeeper/internal/config"
	"casekeeper/internal/importer"
	"casekeeper/internal/models"
	"casekeeper/internal/repository"
)

func newImportCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	var strategy string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import an exported JSON document (- for stdin)",
		Args:  requireExactlyArgs(1, "exactly one file is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := importer.ParseStrategy(strategy)
			if err != nil {
				return err
			}
			var r io.Reader = os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			return withApp(cmd.Context(), cfg, func(a *app) error {
				result, err := a.engine.Import(cmd.Context(), r, parsed)
				if err != nil {
					return err
				}
				return writeImportResult(out, result)
			})
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", string(importer.StrategyMerge), "merge keeps existing records; replace swaps whole categories")
	cmd.AddCommand(newImportWatchCmd(cfg))
	return cmd
}

func writeImportResult(out *outputFlags, result importer.Result) error {
	if out.structured() {
		return writeJSON(result)
	}
	for _, c := range models.Categories() {
		cr, ok := result.Categories[c]
		if !ok {
			continue
		}
		if err := writePlain("%s: added %d, skipped %d, replaced %d\n", c, cr.Added, cr.Skipped, cr.Replaced); err != nil {
			return err
		}
	}
	return writePlain("counter: %d -> %d\n", result.CounterBefore, result.CounterAfter)
}

func newImportWatchCmd(cfg *config.Config) *cobra.Command {
	var strategy string

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Import JSON documents dropped into a directory until interrupted",
		Args:  requireExactlyArgs(1, "exactly one directory is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := importer.ParseStrategy(strategy)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, cfg, func(a *app) error {
				inbox := importer.NewInbox(args[0], a.engine, parsed, importer.OnResult(func(r importer.InboxResult) {
					if r.Err != nil {
						fmt.Fprintf(os.Stderr, "failed %s: %v\n", r.Path, r.Err)
						return
					}
					_ = writePlain("imported %s -> %s\n", r.Path, r.MovedTo)
				}))
				return inbox.Watch(ctx)
			})
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", cfg.Import.InboxStrategy, "merge or replace")
	return cmd
}

func newExportCmd(cfg *config.Config) *cobra.Command {
	var (
		scope   string
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export records as a JSON document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg, func(a *app) (err error) {
				var w io.Writer = os.Stdout
				if outPath != "" {
					f, createErr := os.Create(outPath)
					if createErr != nil {
						return createErr
					}
					defer func() {
						if cerr := f.Close(); err == nil {
							err = cerr
						}
					}()
					w = f
				}
				return a.engine.WriteExport(w, scope)
			})
		},
	}

	cmd.Flags().StringVar(&scope, "category", repository.ScopeAll, "category to export, or all")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file; stdout when empty")
	return cmd
}
