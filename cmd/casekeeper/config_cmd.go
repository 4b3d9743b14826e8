package main

import (
	"strings"

	"github.com/spf13/cobra"

	"casekeeper/internal/apperr"
	"casekeeper/internal/config"
)

func newConfigCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or change " + config.ConfigFileName,
	}
	cmd.AddCommand(
		newConfigGetCmd(cfg),
		newConfigListCmd(cfg, out),
		newConfigSetCmd(),
		newConfigPathCmd(),
	)
	return cmd
}

func newConfigGetCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the effective value of one key",
		Args:  requireExactlyArgs(1, "exactly one key is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkConfigKey(args[0]); err != nil {
				return err
			}
			value, err := cfg.Get(args[0])
			if err != nil {
				return err
			}
			return writePlain("%s\n", value)
		},
	}
}

// configEntry is one key of the effective configuration.
type configEntry struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

func newConfigListCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every key with its effective value, env overrides included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := make([]configEntry, 0, len(config.AllowedKeys()))
			for _, key := range config.AllowedKeys() {
				value, err := cfg.Get(key)
				if err != nil {
					return err
				}
				entries = append(entries, configEntry{Key: key, Value: value})
			}
			if out.structured() {
				return writeJSON(entries)
			}
			for _, e := range entries {
				if err := writePlain("%s = %s\n", e.Key, e.Value); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Persist a value in " + config.ConfigFileName,
		Args:  requireExactlyArgs(2, "a key and a value are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkConfigKey(args[0]); err != nil {
				return err
			}
			path, err := config.GlobalPath()
			if err != nil {
				return err
			}
			if err := config.SetKey(path, args[0], args[1]); err != nil {
				return apperr.Validation(err)
			}
			return writePlain("%s updated in %s\n", args[0], path)
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.GlobalPath()
			if err != nil {
				return err
			}
			return writePlain("%s\n", path)
		},
	}
}

func checkConfigKey(key string) error {
	if config.IsAllowedKey(key) {
		return nil
	}
	return apperr.Validationf("unknown config key %q (allowed: %s)", key, strings.Join(config.AllowedKeys(), ", "))
}
