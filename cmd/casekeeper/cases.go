package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"casekeeper/internal/apperr"
	"casekeeper/internal/config"
	"casekeeper/internal/models"
	"casekeeper/internal/repository"
)

func newCaseCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "case",
		Short: "Create, inspect and delete case records",
	}
	cmd.AddCommand(
		newCaseSaveCmd(cfg, out),
		newCaseListCmd(cfg, out),
		newCaseShowCmd(cfg, out),
		newCaseDeleteCmd(cfg, out),
		newCaseFindCmd(cfg, out),
	)
	return cmd
}

type caseSaveOptions struct {
	category      string
	id            string
	date          string
	file          string
	applicantName string
	nationalID    string
	phone         string
	address       string
	familySize    int
	monthlyIncome float64
	amount        float64
	status        string
	notes         string
	fields        []string
}

type saveResult struct {
	Outcome repository.SaveOutcome `json:"outcome"`
	Record  models.CaseRecord      `json:"record"`
}

func newCaseSaveCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	opts := &caseSaveOptions{}

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Insert a case record, or update it when --id names an existing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg, func(a *app) error {
				rec, err := opts.record(cmd, a.repo)
				if err != nil {
					return err
				}
				saved, outcome, err := a.repo.Save(cmd.Context(), rec)
				if err != nil {
					return err
				}
				if out.structured() {
					return writeJSON(saveResult{Outcome: outcome, Record: saved})
				}
				return writePlain("%s %s\n", outcome, formatCaseLine(saved))
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.category, "category", "", "record category")
	flags.StringVar(&opts.id, "id", "", "record id; minted when empty")
	flags.StringVar(&opts.date, "date", "", "intake date (YYYY-MM-DD); defaults to today")
	flags.StringVarP(&opts.file, "file", "f", "", "read the record as JSON from a file (- for stdin)")
	flags.StringVar(&opts.applicantName, "name", "", "applicant name")
	flags.StringVar(&opts.nationalID, "national-id", "", "applicant national id")
	flags.StringVar(&opts.phone, "phone", "", "contact phone")
	flags.StringVar(&opts.address, "address", "", "address")
	flags.IntVar(&opts.familySize, "family-size", 0, "family size")
	flags.Float64Var(&opts.monthlyIncome, "income", 0, "monthly income")
	flags.Float64Var(&opts.amount, "amount", 0, "requested or granted amount")
	flags.StringVar(&opts.status, "status", "", "case status")
	flags.StringVar(&opts.notes, "notes", "", "free-text notes")
	flags.StringArrayVar(&opts.fields, "field", nil, "extra form field as key=value (repeatable)")
	return cmd
}

// record builds the record to save. When --id names an existing record
// only the flags that were set overwrite its fields.
func (o *caseSaveOptions) record(cmd *cobra.Command, repo *repository.Repository) (models.CaseRecord, error) {
	var rec models.CaseRecord
	if o.file != "" {
		loaded, err := readRecordFile(o.file)
		if err != nil {
			return rec, err
		}
		rec = loaded
	}

	if o.category != "" {
		category, err := categoryFlag(o.category)
		if err != nil {
			return rec, apperr.ValidationCode(err, apperr.CodeInvalidCategory)
		}
		rec.Category = category
	}
	if o.id != "" {
		rec.ID = o.id
	}
	if rec.ID != "" && rec.Category != "" && o.file == "" {
		if existing, err := repo.Get(rec.ID, rec.Category); err == nil {
			rec = existing
		}
	}

	changed := cmd.Flags().Changed
	if changed("date") {
		date, err := time.ParseInLocation(time.DateOnly, o.date, time.UTC)
		if err != nil {
			return rec, apperr.Validationf("invalid --date %q: expected YYYY-MM-DD", o.date)
		}
		rec.Date = date
	}
	setString := func(flag string, dst *string, value string) {
		if changed(flag) {
			*dst = value
		}
	}
	setString("name", &rec.ApplicantName, o.applicantName)
	setString("national-id", &rec.NationalID, o.nationalID)
	setString("phone", &rec.Phone, o.phone)
	setString("address", &rec.Address, o.address)
	setString("status", &rec.Status, o.status)
	setString("notes", &rec.Notes, o.notes)
	if changed("family-size") {
		rec.FamilySize = o.familySize
	}
	if changed("income") {
		rec.MonthlyIncome = o.monthlyIncome
	}
	if changed("amount") {
		rec.Amount = o.amount
	}
	for _, raw := range o.fields {
		key, value, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return rec, apperr.Validationf("invalid --field %q: expected key=value", raw)
		}
		if rec.Fields == nil {
			rec.Fields = map[string]string{}
		}
		rec.Fields[strings.TrimSpace(key)] = value
	}
	return rec, nil
}

func readRecordFile(path string) (models.CaseRecord, error) {
	var rec models.CaseRecord
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return rec, err
		}
		defer f.Close()
		r = f
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, apperr.Parse(fmt.Errorf("decode record %s: %w", path, err))
	}
	return rec, nil
}

func newCaseListCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List case records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg, func(a *app) error {
				records, err := listScope(a.repo, category)
				if err != nil {
					return err
				}
				if out.structured() {
					return writeJSON(records)
				}
				return writeCaseList(records)
			})
		},
	}

	cmd.Flags().StringVar(&category, "category", repository.ScopeAll, "category to list, or all")
	return cmd
}

func listScope(repo *repository.Repository, scope string) ([]models.CaseRecord, error) {
	if scope == "" || scope == repository.ScopeAll {
		return repo.FindByField(repository.ScopeAll, nil)
	}
	category, err := categoryFlag(scope)
	if err != nil {
		return nil, apperr.ValidationCode(err, apperr.CodeInvalidCategory)
	}
	return repo.List(category)
}

func newCaseShowCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one case record",
		Args:  requireExactlyArgs(1, "exactly one id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := categoryFlag(category)
			if err != nil {
				return apperr.ValidationCode(err, apperr.CodeInvalidCategory)
			}
			return withApp(cmd.Context(), cfg, func(a *app) error {
				rec, err := a.repo.Get(args[0], parsed)
				if err != nil {
					return err
				}
				if out.structured() {
					return writeJSON(rec)
				}
				return writeCaseDetail(rec)
			})
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "record category")
	return cmd
}

func newCaseDeleteCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete case records and their attachments",
		Args:  requireAtLeastArgs(1, "at least one id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := categoryFlag(category)
			if err != nil {
				return apperr.ValidationCode(err, apperr.CodeInvalidCategory)
			}
			return withApp(cmd.Context(), cfg, func(a *app) error {
				deleted := make([]string, 0, len(args))
				for _, id := range args {
					if err := a.repo.Delete(cmd.Context(), id, parsed); err != nil {
						return err
					}
					deleted = append(deleted, id)
				}
				if out.structured() {
					return writeJSON(map[string][]string{"deleted": deleted})
				}
				return writePlain("deleted %s\n", strings.Join(deleted, ", "))
			})
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "record category")
	return cmd
}

func newCaseFindCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	var (
		scope string
		field string
	)

	cmd := &cobra.Command{
		Use:   "find <query>",
		Short: "Search records; matching ignores case, diacritics and Arabic letter variants",
		Args:  requireExactlyArgs(1, "exactly one query is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			pred := repository.MatchText(args[0])
			if field != "" {
				pred = repository.MatchField(field, args[0])
			}
			if scope != repository.ScopeAll {
				category, err := categoryFlag(scope)
				if err != nil {
					return apperr.ValidationCode(err, apperr.CodeInvalidCategory)
				}
				scope = string(category)
			}
			return withApp(cmd.Context(), cfg, func(a *app) error {
				records, err := a.repo.FindByField(scope, pred)
				if err != nil {
					return err
				}
				if out.structured() {
					return writeJSON(records)
				}
				return writeCaseList(records)
			})
		},
	}

	cmd.Flags().StringVar(&scope, "category", repository.ScopeAll, "category to search, or all")
	cmd.Flags().StringVar(&field, "field", "", "match a single field instead of all text")
	return cmd
}
