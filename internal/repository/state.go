package repository

import "casekeeper/internal/models"

// State is a full copy of the repository contents.
type State struct {
	Cases    map[models.Category][]models.CaseRecord
	Counter  int64
	Settings models.Settings
}

func emptyState() State {
	st := State{
		Cases:    make(map[models.Category][]models.CaseRecord, len(models.Categories())),
		Settings: models.DefaultSettings(),
	}
	for _, c := range models.Categories() {
		st.Cases[c] = []models.CaseRecord{}
	}
	return st
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := State{
		Cases:    make(map[models.Category][]models.CaseRecord, len(s.Cases)),
		Counter:  s.Counter,
		Settings: s.Settings,
	}
	for c, records := range s.Cases {
		copied := make([]models.CaseRecord, len(records))
		for i, rec := range records {
			copied[i] = rec.Clone()
		}
		out.Cases[c] = copied
	}
	return out
}

// Counts returns the number of records per category.
func (s State) Counts() map[models.Category]int {
	out := make(map[models.Category]int, len(s.Cases))
	for _, c := range models.Categories() {
		out[c] = len(s.Cases[c])
	}
	return out
}

// DataKeys returns every attachment key referenced by a record in s.
func (s State) DataKeys() []string {
	var out []string
	for _, records := range s.Cases {
		for _, rec := range records {
			out = append(out, rec.DataKeys()...)
		}
	}
	return out
}

// DedupeByID keeps the first record for each id and reports how many were dropped.
func DedupeByID(records []models.CaseRecord) ([]models.CaseRecord, int) {
	seen := make(map[string]struct{}, len(records))
	out := make([]models.CaseRecord, 0, len(records))
	for _, rec := range records {
		if _, ok := seen[rec.ID]; ok {
			continue
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	return out, len(records) - len(out)
}
