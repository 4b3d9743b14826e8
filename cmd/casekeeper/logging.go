package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"casekeeper/internal/config"
)

// logLevelOff sits above every level the packages log at, so nothing is
// written. Useful when stdout carries a payload and stderr is a terminal.
const logLevelOff = slog.LevelError + 4

var logLevelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
	"off":     logLevelOff,
}

// cliLogging is the logger setup resolved for one command run.
type cliLogging struct {
	level  slog.Level
	format string
}

// resolveCLILogging picks the level from --log-level, falling back to the
// loaded config, where CASEKEEPER_LOG_LEVEL already overrides log_level.
// A bad flag fails the command. Bad env or file values fall back to the
// defaults and come back as warnings.
func resolveCLILogging(flagLevel string, cfg *config.Config) (cliLogging, []string, error) {
	setup := cliLogging{level: slog.LevelInfo, format: config.LogFormatText}
	var warnings []string

	if strings.TrimSpace(flagLevel) != "" {
		level, err := parseLogLevel(flagLevel)
		if err != nil {
			return setup, nil, fmt.Errorf("invalid --log-level %q (want one of %s)", flagLevel, strings.Join(logLevelChoices(), ", "))
		}
		setup.level = level
	} else if level, err := parseLogLevel(cfg.LogLevel); err == nil {
		setup.level = level
	} else {
		warnings = append(warnings, fmt.Sprintf("warning: invalid %s %q; defaulting to %s",
			settingOrigin(config.LogLevelEnvKey, "log_level"), cfg.LogLevel, config.DefaultLogLevel))
	}

	switch format := strings.ToLower(strings.TrimSpace(cfg.LogFormat)); format {
	case "", config.LogFormatText:
	case config.LogFormatJSON:
		setup.format = format
	default:
		warnings = append(warnings, fmt.Sprintf("warning: invalid %s %q; defaulting to %s",
			settingOrigin(config.LogFormatEnvKey, "log_format"), cfg.LogFormat, config.LogFormatText))
	}
	return setup, warnings, nil
}

// settingOrigin names where a config value came from for warning text.
func settingOrigin(envKey, fileKey string) string {
	if strings.TrimSpace(os.Getenv(envKey)) != "" {
		return envKey
	}
	return fileKey + " in " + config.ConfigFileName
}

func (l cliLogging) handler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: l.level, AddSource: l.level <= slog.LevelDebug}
	if l.format == config.LogFormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// configureLoggerForCLI installs the default logger on stderr and returns
// warnings the caller should print.
func configureLoggerForCLI(flagLevel string, cfg *config.Config) ([]string, error) {
	setup, warnings, err := resolveCLILogging(flagLevel, cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(setup.handler(os.Stderr)))
	return warnings, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return slog.LevelInfo, nil
	}
	level, ok := logLevelNames[value]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", raw)
	}
	return level, nil
}

func logLevelChoices() []string {
	names := make([]string, 0, len(logLevelNames))
	for name := range logLevelNames {
		if name != "warning" {
			names = append(names, name)
		}
	}
	slices.SortFunc(names, func(a, b string) int {
		return int(logLevelNames[a]) - int(logLevelNames[b])
	})
	return names
}
