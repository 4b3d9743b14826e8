package repository

import (
	"strconv"
	"time"

	"casekeeper/internal/models"
)

// NoDateLayout disables the date segment of minted ids.
const NoDateLayout = "none"

// FormatCaseID renders the id minted for counter value n, e.g. "250101-1".
func FormatCaseID(settings models.Settings, date time.Time, n int64) string {
	settings = settings.WithDefaults()
	num := strconv.FormatInt(n, 10)
	if settings.IDDateLayout == NoDateLayout {
		return settings.IDPrefix + num
	}
	return settings.IDPrefix + date.Format(settings.IDDateLayout) + "-" + num
}
