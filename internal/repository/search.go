package repository

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"casekeeper/internal/models"
)

// Predicate selects records in FindByField.
type Predicate func(models.CaseRecord) bool

var arabicFolds = strings.NewReplacer(
	"أ", "ا", "إ", "ا", "آ", "ا", "ٱ", "ا",
	"ى", "ي",
	"ة", "ه",
	"ؤ", "و", "ئ", "ي",
	"ـ", "",
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
)

var folder = cases.Fold()

// NormalizeSearch folds s for comparison: marks are stripped, Arabic letter
// variants collapse to their base form, and case is folded.
func NormalizeSearch(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFKC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = arabicFolds.Replace(out)
	out = folder.String(out)
	return strings.Join(strings.Fields(out), " ")
}

// MatchText matches records where any text field contains query after
// normalisation. An empty query matches everything.
func MatchText(query string) Predicate {
	needle := NormalizeSearch(query)
	return func(rec models.CaseRecord) bool {
		if needle == "" {
			return true
		}
		for _, v := range rec.SearchableText() {
			if v != "" && strings.Contains(NormalizeSearch(v), needle) {
				return true
			}
		}
		return false
	}
}

// MatchField matches records whose named field equals value exactly.
func MatchField(name, value string) Predicate {
	value = strings.TrimSpace(value)
	return func(rec models.CaseRecord) bool {
		got, ok := rec.FieldValue(name)
		return ok && got == value
	}
}
