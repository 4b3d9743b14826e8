package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"casekeeper/internal/apperr"
	"casekeeper/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

// Exit codes let scripts tell a rejected request from a storage problem.
const (
	exitOK          = 0
	exitFailure     = 1
	exitInvalid     = 2
	exitNotFound    = 3
	exitBadDocument = 4
	exitStorage     = 5
	exitInterrupted = 130
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		fmt.Fprintln(stderr, "hint: fix the file or point CASEKEEPER_CONFIG_DIR at another directory.")
		return exitFailure
	}

	cmd := newRootCmd(cfg)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		for _, line := range formatCLIError(err) {
			fmt.Fprintln(stderr, line)
		}
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return exitInvalid
	case apperr.KindNotFound:
		return exitNotFound
	case apperr.KindParse:
		return exitBadDocument
	case apperr.KindQuotaExceeded, apperr.KindBackendUnavailable:
		return exitStorage
	default:
		return exitFailure
	}
}
