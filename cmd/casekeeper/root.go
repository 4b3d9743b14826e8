package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"casekeeper/internal/config"
	"casekeeper/internal/format"
)

type outputFlags struct {
	json bool
	yaml bool
}

// structured reports whether a machine-readable format was requested.
func (o *outputFlags) structured() bool {
	return o.json || o.yaml
}

func (o *outputFlags) formatter() format.Formatter {
	if o.yaml {
		return format.YAMLFormatter{}
	}
	return format.JSONFormatter{}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	out := &outputFlags{}
	var logLevel string

	cmd := &cobra.Command{
		Use:           "casekeeper",
		Short:         "Casekeeper stores welfare case records and their attachments",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if out.json && out.yaml {
				return fmt.Errorf("--json and --yaml are mutually exclusive")
			}
			outputFormatter = out.formatter()
			warnings, err := configureLoggerForCLI(logLevel, cfg)
			if err != nil {
				return err
			}
			for _, w := range warnings {
				fmt.Fprintln(os.Stderr, w)
			}
			return nil
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().BoolVar(&out.json, "json", false, "output JSON")
	cmd.PersistentFlags().BoolVar(&out.yaml, "yaml", false, "output YAML")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error, off)")

	cmd.AddCommand(
		newCaseCmd(cfg, out),
		newAttachCmd(cfg, out),
		newBackupCmd(cfg, out),
		newImportCmd(cfg, out),
		newExportCmd(cfg),
		newSettingsCmd(cfg, out),
		newConfigCmd(cfg, out),
		newStorageCmd(cfg, out),
		newAutosaveCmd(cfg, out),
	)

	return cmd
}
