package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"casekeeper/internal/apperr"
	"casekeeper/internal/config"
	"casekeeper/internal/models"
)

func newSettingsCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or load the application settings document",
	}
	cmd.AddCommand(newSettingsShowCmd(cfg, out), newSettingsLoadCmd(cfg))
	return cmd
}

func newSettingsShowCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg, func(a *app) error {
				settings := a.repo.Settings()
				if out.structured() {
					return writeJSON(settings)
				}
				raw, err := yaml.Marshal(settings)
				if err != nil {
					return err
				}
				return writePlain("%s", raw)
			})
		},
	}
}

func newSettingsLoadCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "load <file.yaml>",
		Short: "Replace the stored settings with a YAML document",
		Args:  requireExactlyArgs(1, "exactly one file is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := readSettingsFile(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), cfg, func(a *app) error {
				return a.repo.SaveSettings(cmd.Context(), settings)
			})
		},
	}
}

func readSettingsFile(path string) (models.Settings, error) {
	var settings models.Settings
	raw, err := os.ReadFile(path)
	if err != nil {
		return settings, err
	}
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return settings, apperr.Parse(fmt.Errorf("decode settings %s: %w", path, err))
	}
	if settings.AutosaveSeconds < 0 {
		return settings, apperr.Validationf("autosave_seconds must not be negative")
	}
	return settings, nil
}
