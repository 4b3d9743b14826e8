package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"casekeeper/internal/apperr"
	"casekeeper/internal/models"
	"casekeeper/internal/repository"
)

// Strategy selects how imported records combine with existing ones.
type Strategy string

const (
	// StrategyMerge appends imported records and keeps the first occurrence
	// of every id.
	StrategyMerge Strategy = "merge"
	// StrategyReplace overwrites each provided category.
	StrategyReplace Strategy = "replace"
)

func ParseStrategy(raw string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(raw))) {
	case StrategyMerge, "":
		return StrategyMerge, nil
	case StrategyReplace:
		return StrategyReplace, nil
	default:
		return "", apperr.ValidationCode(fmt.Errorf("unknown import strategy %q (want merge or replace)", raw), apperr.CodeInvalidStrategy)
	}
}

// CategoryResult counts what happened to one category.
type CategoryResult struct {
	Added    int `json:"added" yaml:"added"`
	Skipped  int `json:"skipped" yaml:"skipped"`
	Replaced int `json:"replaced" yaml:"replaced"`
}

// Result summarises an import.
type Result struct {
	Strategy      Strategy                           `json:"strategy" yaml:"strategy"`
	Categories    map[models.Category]CategoryResult `json:"categories" yaml:"categories"`
	CounterBefore int64                              `json:"counter_before" yaml:"counter_before"`
	CounterAfter  int64                              `json:"counter_after" yaml:"counter_after"`
}

// Engine applies import documents to a repository.
type Engine struct {
	repo   *repository.Repository
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewEngine(repo *repository.Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:   repo,
		logger: slog.Default().With("component", "importer"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Import parses r and applies it. A document that fails to parse or
// validate leaves the repository untouched.
func (e *Engine) Import(ctx context.Context, r io.Reader, strategy Strategy) (Result, error) {
	doc, err := ParseDocument(r)
	if err != nil {
		return Result{}, err
	}
	return e.Apply(ctx, doc, strategy)
}

// Apply combines doc with the repository contents and writes the result in
// one pass. Concurrent applies run one after another, so every merge sees
// the records written by the previous one. Attachments of records a replace
// drops are deleted by the repository cascade.
func (e *Engine) Apply(ctx context.Context, doc Document, strategy Strategy) (Result, error) {
	if strategy != StrategyMerge && strategy != StrategyReplace {
		if _, err := ParseStrategy(string(strategy)); err != nil {
			return Result{}, err
		}
	}

	var res Result
	err := e.repo.Update(ctx, func(st repository.State) (repository.State, error) {
		res = Result{
			Strategy:      strategy,
			Categories:    make(map[models.Category]CategoryResult, len(doc.Cases)),
			CounterBefore: st.Counter,
		}
		for _, c := range models.Categories() {
			imported, ok := doc.Cases[c]
			if !ok {
				continue
			}
			existing := st.Cases[c]
			var cr CategoryResult
			switch strategy {
			case StrategyReplace:
				st.Cases[c], cr = replaceCategory(existing, imported)
			default:
				st.Cases[c], cr = mergeCategory(existing, imported)
			}
			res.Categories[c] = cr
		}
		if doc.Counter != nil && *doc.Counter > st.Counter {
			st.Counter = *doc.Counter
		}
		res.CounterAfter = st.Counter
		return st, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("apply import: %w", err)
	}

	e.logger.Info("import applied",
		"strategy", strategy,
		"records", doc.RecordCount(),
		"counter_before", res.CounterBefore,
		"counter_after", res.CounterAfter,
	)
	return res, nil
}

// mergeCategory appends imported after existing and keeps the first record
// seen for each id.
func mergeCategory(existing, imported []models.CaseRecord) ([]models.CaseRecord, CategoryResult) {
	combined := make([]models.CaseRecord, 0, len(existing)+len(imported))
	combined = append(combined, existing...)
	combined = append(combined, imported...)
	merged, dropped := repository.DedupeByID(combined)
	_, existingDupes := repository.DedupeByID(existing)
	skipped := dropped - existingDupes
	return merged, CategoryResult{Added: len(imported) - skipped, Skipped: skipped}
}

// replaceCategory swaps existing for imported, keeping the first record
// seen for each id.
func replaceCategory(existing, imported []models.CaseRecord) ([]models.CaseRecord, CategoryResult) {
	replaced, dropped := repository.DedupeByID(imported)
	return replaced, CategoryResult{Added: len(replaced), Skipped: dropped, Replaced: len(existing)}
}

// Export returns the repository contents for scope, either
// repository.ScopeAll or a single category. Only a full export carries the
// counter.
func (e *Engine) Export(scope string) (Document, error) {
	st := e.repo.Snapshot()
	doc := Document{Cases: map[models.Category][]models.CaseRecord{}}
	if scope == repository.ScopeAll {
		for _, c := range models.Categories() {
			doc.Cases[c] = st.Cases[c]
		}
		counter := st.Counter
		doc.Counter = &counter
		return doc, nil
	}

	c, err := models.ParseCategory(scope)
	if err != nil {
		return Document{}, apperr.ValidationCode(err, apperr.CodeInvalidCategory)
	}
	doc.Cases[c] = st.Cases[c]
	return doc, nil
}

// WriteExport writes Export(scope) to w as indented JSON.
func (e *Engine) WriteExport(w io.Writer, scope string) error {
	doc, err := e.Export(scope)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(doc)
}
