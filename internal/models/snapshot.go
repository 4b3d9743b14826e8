package models

import "time"

const SnapshotVersion = 1

// Snapshot is an immutable capture of the whole repository.
type Snapshot struct {
	Version   int                       `json:"version"`
	ID        string                    `json:"id"`
	CreatedAt time.Time                 `json:"createdAt"`
	Cases     map[Category][]CaseRecord `json:"cases"`
	Counter   int64                     `json:"counter"`
	Settings  Settings                  `json:"settings"`
	Digest    string                    `json:"digest,omitempty"`
}

// RecordCount returns the number of case records across categories.
func (s Snapshot) RecordCount() int {
	n := 0
	for _, records := range s.Cases {
		n += len(records)
	}
	return n
}

// SnapshotInfo summarises a stored snapshot.
type SnapshotInfo struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"createdAt"`
	SizeBytes   int64     `json:"sizeBytes"`
	RecordCount int       `json:"recordCount"`
}
