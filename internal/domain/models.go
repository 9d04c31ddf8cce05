package domain

import (
	"time"
)

// StatusUploaded is the only terminal ledger status.
const StatusUploaded = "uploaded"

// Identity is the stable key derived from a source filename. It is used
// both as the ledger primary key and as the remote object key (with the
// format suffix appended).
type Identity struct {
	ID       string
	Metadata map[string]string
	Matched  bool
}

// LedgerEntry is one persisted row of the upload ledger.
type LedgerEntry struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Status    string    `gorm:"column:status"`
	Timestamp time.Time `gorm:"column:timestamp"`
}

func (LedgerEntry) TableName() string {
	return "uploads"
}

// Outcome is the per-item result produced by one pipeline worker.
// The counters are 0 or 1 each.
type Outcome struct {
	ID        string
	Processed int
	Converted int
	Uploaded  int
	Cleaned   int
	Errors    []string
}

// Summary aggregates all Outcomes of one batch invocation.
type Summary struct {
	RunID     string
	Processed int
	Converted int
	Uploaded  int
	Cleaned   int
	Errors    []string
}

// Add folds one item outcome into the batch totals.
func (s *Summary) Add(o Outcome) {
	s.Processed += o.Processed
	s.Converted += o.Converted
	s.Uploaded += o.Uploaded
	s.Cleaned += o.Cleaned
	s.Errors = append(s.Errors, o.Errors...)
}
