// Package dedup maintains the in-memory view of previously-notified event
// identifiers for one run. Durable storage is read once at run start and
// written back through the state store; IsNew never touches disk.
package dedup

import (
	"strconv"
	"strings"
	"time"

	"github.com/blockcaptain/jackwatch/internal/models"
)

// Policy is a category's retention window. Exactly one of the two forms is
// normally set: MaxIDs for monotonically-increasing provider ids, MaxAge for
// time-bucketed composite ids. Zero values disable the respective pruning.
type Policy struct {
	MaxIDs int
	MaxAge time.Duration
}

// Store wraps a TaskState's dedup records with a lookup index.
type Store struct {
	state *models.TaskState
	seen  map[string]map[string]struct{}
}

// New builds the run-scoped store over state loaded at run start.
func New(state *models.TaskState) *Store {
	s := &Store{
		state: state,
		seen:  make(map[string]map[string]struct{}),
	}
	for category, rec := range state.Dedup {
		set := make(map[string]struct{}, len(rec.IDs))
		for _, id := range rec.IDs {
			set[id] = struct{}{}
		}
		s.seen[category] = set
	}
	return s
}

// IsNew reports whether the identifier has not been notified before.
func (s *Store) IsNew(category, id string) bool {
	set, ok := s.seen[category]
	if !ok {
		return true
	}
	_, present := set[id]
	return !present
}

// Commit appends identifiers to the category record. Committing an
// already-present id is a no-op, so replays are safe.
func (s *Store) Commit(category string, ids []string) {
	if len(ids) == 0 {
		return
	}
	rec := s.state.Record(category)
	set, ok := s.seen[category]
	if !ok {
		set = make(map[string]struct{})
		s.seen[category] = set
	}
	for _, id := range ids {
		if _, present := set[id]; present {
			continue
		}
		set[id] = struct{}{}
		rec.IDs = append(rec.IDs, id)
	}
}

// Prune enforces the category's retention policy. Count windows keep the N
// most recent identifiers; age windows drop identifiers whose embedded time
// bucket is older than now-MaxAge. Identifiers that could still recur are
// never removed: ids without a parseable bucket survive age pruning.
func (s *Store) Prune(category string, p Policy, now time.Time) {
	rec, ok := s.state.Dedup[category]
	if !ok {
		return
	}

	if p.MaxAge > 0 {
		oldest := now.Add(-p.MaxAge).Unix()
		kept := rec.IDs[:0]
		for _, id := range rec.IDs {
			if bucket, ok := parseBucket(id); ok && bucket < oldest {
				delete(s.seen[category], id)
				continue
			}
			kept = append(kept, id)
		}
		rec.IDs = kept
		rec.Cursor = oldest
	}

	if p.MaxIDs > 0 && len(rec.IDs) > p.MaxIDs {
		dropped := rec.IDs[:len(rec.IDs)-p.MaxIDs]
		for _, id := range dropped {
			delete(s.seen[category], id)
		}
		rec.IDs = append(rec.IDs[:0], rec.IDs[len(rec.IDs)-p.MaxIDs:]...)
	}
}

// State exposes the underlying task state for persistence.
func (s *Store) State() *models.TaskState {
	return s.state
}

// parseBucket extracts the trailing unix time bucket from a composite
// identifier of the form "symbol|label|bucket".
func parseBucket(id string) (int64, bool) {
	i := strings.LastIndexByte(id, '|')
	if i < 0 || i == len(id)-1 {
		return 0, false
	}
	bucket, err := strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return bucket, true
}
