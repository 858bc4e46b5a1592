package models

import (
	"time"
)

// DedupRecord is the per-category record of previously-notified identifiers.
// IDs are append-only within a run; pruning removes only entries that fell out
// of the category's retention window. Cursor marks the oldest retained time
// bucket (unix seconds) for age-windowed categories, 0 for count windows.
type DedupRecord struct {
	IDs    []string `json:"ids"`
	Cursor int64    `json:"cursor,omitempty"`
}

// TaskState is the only state that survives across invocations of a task: the
// previous observation snapshot (for delta tasks) and the dedup records, under
// a single revision counter so persists can be compare-and-swapped.
type TaskState struct {
	Task      string                  `json:"task"`
	Revision  int64                   `json:"-"`
	Snapshot  map[string]Observation  `json:"snapshot,omitempty"`
	Dedup     map[string]*DedupRecord `json:"dedup,omitempty"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// NewTaskState returns an empty state at revision zero (first run).
func NewTaskState(task string) *TaskState {
	return &TaskState{
		Task:  task,
		Dedup: make(map[string]*DedupRecord),
	}
}

// Record returns the dedup record for a category, creating it if absent.
func (s *TaskState) Record(category string) *DedupRecord {
	if s.Dedup == nil {
		s.Dedup = make(map[string]*DedupRecord)
	}
	rec, ok := s.Dedup[category]
	if !ok {
		rec = &DedupRecord{}
		s.Dedup[category] = rec
	}
	return rec
}

// RunStatus is the overall outcome of one task run.
type RunStatus string

const (
	RunSucceeded       RunStatus = "succeeded"
	RunPartiallyFailed RunStatus = "partially-failed"
	RunFailed          RunStatus = "failed"
)

// RunReport is the sole user-visible artifact of a run besides the delivered
// messages themselves.
type RunReport struct {
	RunID                  string
	Task                   string
	Status                 RunStatus
	EventsDetected         int
	EventsDelivered        int
	EventsFailed           int
	EventsSkippedDuplicate int
	EventsTruncated        int
	DeltasSubThreshold     int
	ObservationsMalformed  int
	StartedAt              time.Time
	Duration               time.Duration
	Err                    string
}
