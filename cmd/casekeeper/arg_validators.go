package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"casekeeper/internal/models"
)

func requireExactlyArgs(count int, message string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != count {
			return errors.New(message)
		}
		return nil
	}
}

func requireAtLeastArgs(min int, message string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) < min {
			return errors.New(message)
		}
		return nil
	}
}

// categoryFlag parses a --category value into a models.Category.
func categoryFlag(raw string) (models.Category, error) {
	category, err := models.ParseCategory(raw)
	if err != nil {
		return "", fmt.Errorf("%w (allowed: %v)", err, models.Categories())
	}
	return category, nil
}
