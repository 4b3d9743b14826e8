// Package importer merges externally supplied case documents into the
// repository and exports them back out.
package importer

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"casekeeper/internal/apperr"
	"casekeeper/internal/models"
)

// CounterField is the optional top-level counter key.
const CounterField = "counter"

// Document is the import/export shape: category arrays plus an optional
// counter.
type Document struct {
	Cases   map[models.Category][]models.CaseRecord
	Counter *int64
}

// ParseDocument decodes and validates a document. Nothing is applied.
func ParseDocument(r io.Reader) (Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Document{}, fmt.Errorf("read document: %w", err)
	}
	return parseDocument(raw)
}

func parseDocument(raw []byte) (Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return Document{}, apperr.Parse(fmt.Errorf("decode document: %w", err))
	}
	if top == nil {
		return Document{}, apperr.Parsef("document must be a JSON object")
	}

	doc := Document{Cases: map[models.Category][]models.CaseRecord{}}
	for _, c := range models.Categories() {
		value, ok := top[string(c)]
		if !ok {
			continue
		}
		records, err := parseCategory(c, value)
		if err != nil {
			return Document{}, err
		}
		doc.Cases[c] = records
	}

	if value, ok := top[CounterField]; ok && string(value) != "null" {
		n, err := parseCounter(value)
		if err != nil {
			return Document{}, err
		}
		doc.Counter = &n
	}
	return doc, nil
}

func parseCategory(c models.Category, value json.RawMessage) ([]models.CaseRecord, error) {
	var records []models.CaseRecord
	if err := json.Unmarshal(value, &records); err != nil {
		return nil, apperr.Parse(fmt.Errorf("%s: expected an array of case records: %w", c, err))
	}
	for i := range records {
		rec := &records[i]
		rec.Normalize()
		if rec.Category != "" && rec.Category != c {
			return nil, apperr.Parsef("%s[%d]: record category %q does not match", c, i, rec.Category)
		}
		rec.Category = c
		if rec.ID == "" {
			return nil, apperr.ValidationCode(fmt.Errorf("%s[%d]: id is required", c, i), apperr.CodeMissingRequired)
		}
		if err := rec.Validate(); err != nil {
			return nil, apperr.Validation(fmt.Errorf("%s[%d] %s: %w", c, i, rec.ID, err))
		}
	}
	if records == nil {
		records = []models.CaseRecord{}
	}
	return records, nil
}

// parseCounter accepts a JSON number or a numeric string.
func parseCounter(value json.RawMessage) (int64, error) {
	var num json.Number
	if err := json.Unmarshal(value, &num); err != nil {
		var s string
		if json.Unmarshal(value, &s) != nil {
			return 0, apperr.Parse(fmt.Errorf("counter: %w", err))
		}
		num = json.Number(strings.TrimSpace(s))
	}
	n, err := strconv.ParseInt(num.String(), 10, 64)
	if err != nil {
		f, ferr := num.Float64()
		if ferr != nil || f != float64(int64(f)) {
			return 0, apperr.Parsef("counter %q is not an integer", num.String())
		}
		n = int64(f)
	}
	if n < 0 {
		return 0, apperr.Parsef("counter must not be negative")
	}
	return n, nil
}

// MarshalJSON writes the category arrays and, when set, the counter.
func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Cases)+1)
	for c, records := range d.Cases {
		if records == nil {
			records = []models.CaseRecord{}
		}
		out[string(c)] = records
	}
	if d.Counter != nil {
		out[CounterField] = *d.Counter
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON with full validation.
func (d *Document) UnmarshalJSON(raw []byte) error {
	doc, err := parseDocument(raw)
	if err != nil {
		return err
	}
	*d = doc
	return nil
}

// RecordCount returns the number of records across categories.
func (d Document) RecordCount() int {
	n := 0
	for _, records := range d.Cases {
		n += len(records)
	}
	return n
}
