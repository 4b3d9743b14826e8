package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"casekeeper/internal/backup"
	"casekeeper/internal/config"
	"casekeeper/internal/models"
)

func newBackupCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, restore and prune snapshots",
	}
	cmd.AddCommand(
		newBackupCreateCmd(cfg, out),
		newBackupListCmd(cfg, out),
		newBackupRestoreCmd(cfg, out),
		newBackupDeleteCmd(cfg),
		newBackupPruneCmd(cfg, out),
		newBackupScheduleCmd(cfg),
	)
	return cmd
}

func writeSnapshotInfo(out *outputFlags, verb string, info models.SnapshotInfo) error {
	if out.structured() {
		return writeJSON(info)
	}
	return writePlain("%s %s (%d records, %s)\n", verb, info.ID, info.RecordCount, formatBytes(info.SizeBytes))
}

func newBackupCreateCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Capture every record, the counter and settings in a snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg, func(a *app) error {
				info, err := a.backups.CreateSnapshot(cmd.Context())
				if err != nil {
					return err
				}
				return writeSnapshotInfo(out, "created", info)
			})
		},
	}
}

func newBackupListCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg, func(a *app) error {
				infos, err := a.backups.ListSnapshots(cmd.Context())
				if err != nil {
					return err
				}
				if out.structured() {
					return writeJSON(infos)
				}
				for _, info := range infos {
					records := "unreadable"
					if info.RecordCount >= 0 {
						records = formatCount(info.RecordCount, "record")
					}
					if err := writePlain("%s  %s  %s  %s\n", info.ID, formatTime(info.CreatedAt), records, formatBytes(info.SizeBytes)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newBackupRestoreCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "Replace all records and settings with a snapshot",
		Args:  requireExactlyArgs(1, "exactly one snapshot id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg, func(a *app) error {
				info, err := a.backups.RestoreSnapshot(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeSnapshotInfo(out, "restored", info)
			})
		},
	}
}

func newBackupDeleteCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <snapshot-id>...",
		Short: "Delete snapshots",
		Args:  requireAtLeastArgs(1, "at least one snapshot id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg, func(a *app) error {
				for _, id := range args {
					if err := a.backups.DeleteSnapshot(cmd.Context(), id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newBackupPruneCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete the oldest snapshots beyond --keep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg, func(a *app) error {
				deleted, err := a.backups.Prune(cmd.Context(), keep)
				if err != nil {
					return err
				}
				if out.structured() {
					return writeJSON(map[string][]string{"deleted": deleted})
				}
				return writePlain("pruned %s\n", formatCount(len(deleted), "snapshot"))
			})
		},
	}

	cmd.Flags().IntVar(&keep, "keep", cfg.Backup.Retain, "number of snapshots to keep")
	return cmd
}

func newBackupScheduleCmd(cfg *config.Config) *cobra.Command {
	var (
		schedule string
		retain   int
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Take snapshots on a cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, cfg, func(a *app) error {
				scheduler := backup.NewScheduler(a.backups, schedule, retain)
				if err := scheduler.Start(ctx); err != nil {
					return err
				}
				if !scheduler.IsRunning() {
					return nil
				}
				if next := scheduler.NextRun(); next != nil {
					_ = writePlain("next snapshot at %s\n", formatTime(*next))
				}
				<-ctx.Done()
				scheduler.Stop()
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&schedule, "cron", cfg.Backup.Schedule, "standard cron expression")
	cmd.Flags().IntVar(&retain, "retain", cfg.Backup.Retain, "snapshots to keep after each run; 0 keeps all")
	return cmd
}
