package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"casekeeper/internal/apperr"
	"casekeeper/internal/config"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: exitOK},
		{name: "validation", err: apperr.Validationf("bad"), want: exitInvalid},
		{name: "not found", err: apperr.NotFoundCode(errors.New("gone"), apperr.CodeSnapshotNotFound), want: exitNotFound},
		{name: "parse", err: apperr.Parsef("broken"), want: exitBadDocument},
		{name: "quota", err: apperr.QuotaExceeded(errors.New("full")), want: exitStorage},
		{name: "backend", err: fmt.Errorf("open: %w", apperr.BackendUnavailable(errors.New("locked"))), want: exitStorage},
		{name: "interrupted", err: fmt.Errorf("watch: %w", context.Canceled), want: exitInterrupted},
		{name: "unclassified", err: errors.New("boom"), want: exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestRunReportsHintsAndExitCode(t *testing.T) {
	t.Setenv("CASEKEEPER_CONFIG_DIR", t.TempDir())
	t.Setenv("CASEKEEPER_DATA_DIR", t.TempDir())
	t.Setenv(config.LogLevelEnvKey, "off")
	t.Setenv(config.LogFormatEnvKey, "")

	var stderr bytes.Buffer
	code := run([]string{"backup", "restore", "missing"}, &stderr)
	if code != exitNotFound {
		t.Fatalf("expected exit %d, got %d (%s)", exitNotFound, code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "hint: list available snapshots with: casekeeper backup list") {
		t.Fatalf("expected snapshot hint, got %q", stderr.String())
	}
}

func TestRunRejectsUnreadableConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CASEKEEPER_CONFIG_DIR", dir)
	if err := os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte("log_level = ["), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var stderr bytes.Buffer
	if code := run([]string{"case", "list"}, &stderr); code != exitFailure {
		t.Fatalf("expected exit %d, got %d", exitFailure, code)
	}
	if !strings.Contains(stderr.String(), "CASEKEEPER_CONFIG_DIR") {
		t.Fatalf("expected config hint, got %q", stderr.String())
	}
}
