package main

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"casekeeper/internal/format"
	"casekeeper/internal/models"
)

var outputFormatter format.Formatter = format.JSONFormatter{}

func writeJSON(payload any) error {
	return outputFormatter.Write(os.Stdout, payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}

func writeCaseList(records []models.CaseRecord) error {
	for _, rec := range records {
		if err := writePlain("%s\n", formatCaseLine(rec)); err != nil {
			return err
		}
	}
	return nil
}

func writeCaseDetail(rec models.CaseRecord) error {
	lines := []string{
		fmt.Sprintf("id: %s", rec.ID),
		fmt.Sprintf("category: %s", rec.Category),
		fmt.Sprintf("date: %s", formatTime(rec.Date)),
	}
	if !rec.UpdatedAt.IsZero() {
		lines = append(lines, fmt.Sprintf("updated_at: %s", formatTime(rec.UpdatedAt)))
	}
	optional := []struct{ name, value string }{
		{"applicant_name", rec.ApplicantName},
		{"national_id", rec.NationalID},
		{"phone", rec.Phone},
		{"address", rec.Address},
		{"status", rec.Status},
		{"notes", rec.Notes},
	}
	for _, field := range optional {
		if field.value != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", field.name, field.value))
		}
	}
	if rec.FamilySize > 0 {
		lines = append(lines, fmt.Sprintf("family_size: %d", rec.FamilySize))
	}
	if rec.MonthlyIncome > 0 {
		lines = append(lines, fmt.Sprintf("monthly_income: %s", humanize.CommafWithDigits(rec.MonthlyIncome, 2)))
	}
	if rec.Amount > 0 {
		lines = append(lines, fmt.Sprintf("amount: %s", humanize.CommafWithDigits(rec.Amount, 2)))
	}
	if len(rec.Fields) > 0 {
		lines = append(lines, "fields:")
		for _, key := range sortedKeys(rec.Fields) {
			lines = append(lines, fmt.Sprintf("  %s: %s", key, rec.Fields[key]))
		}
	}
	if len(rec.Attachments) > 0 {
		lines = append(lines, "attachments:")
		for _, meta := range rec.Attachments {
			lines = append(lines, "  - "+formatAttachmentLine(meta))
		}
	}
	return writePlain("%s\n", strings.Join(lines, "\n"))
}

func formatCaseLine(rec models.CaseRecord) string {
	name := rec.ApplicantName
	if name == "" {
		name = "-"
	}
	line := fmt.Sprintf("○ %s [%s] %s - %s", rec.ID, rec.Category, rec.Date.Format(time.DateOnly), name)
	if n := len(rec.Attachments); n > 0 {
		line += fmt.Sprintf(" (%d attachments)", n)
	}
	return line
}

func formatAttachmentLine(meta models.AttachmentMetadata) string {
	return fmt.Sprintf("%s %s [%s] %s", meta.ID, meta.Name, meta.MediaType, formatBytes(meta.Size))
}

func formatBytes(n int64) string {
	if n < 0 {
		return "-"
	}
	return humanize.IBytes(uint64(n))
}

func formatCount(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return humanize.Comma(int64(n)) + " " + noun + "s"
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
