package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/blockcaptain/jackwatch/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoad_MissingTaskReturnsFreshState(t *testing.T) {
	s := newTestStore(t)
	state, err := s.Load("never-ran")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Revision != 0 {
		t.Errorf("fresh state revision = %d, want 0", state.Revision)
	}
	if state.Task != "never-ran" {
		t.Errorf("task = %q, want never-ran", state.Task)
	}
	if state.Dedup == nil {
		t.Error("fresh state must carry a usable dedup map")
	}
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	state := models.NewTaskState("position-change")
	state.Snapshot = map[string]models.Observation{
		"BTC": {
			Symbol:    "BTC",
			Fields:    map[string]float64{"exposure": 12.5},
			FetchedAt: time.Now(),
		},
	}
	state.Record("position").IDs = []string{"BTC|long-open|1700000000"}

	if err := s.Save(state); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if state.Revision != 1 {
		t.Errorf("revision after first save = %d, want 1", state.Revision)
	}

	got, err := s.Load("position-change")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Revision != 1 {
		t.Errorf("loaded revision = %d, want 1", got.Revision)
	}
	if got.Snapshot["BTC"].Fields["exposure"] != 12.5 {
		t.Errorf("snapshot did not round-trip: %+v", got.Snapshot)
	}
	if ids := got.Dedup["position"].IDs; len(ids) != 1 || ids[0] != "BTC|long-open|1700000000" {
		t.Errorf("dedup ids did not round-trip: %v", ids)
	}
}

func TestSave_ChainsRevisionsWithinRun(t *testing.T) {
	s := newTestStore(t)
	state := models.NewTaskState("news")

	for i := 1; i <= 3; i++ {
		state.Record("news").IDs = append(state.Record("news").IDs, "id")
		if err := s.Save(state); err != nil {
			t.Fatalf("Save #%d: %v", i, err)
		}
		if state.Revision != int64(i) {
			t.Fatalf("revision after save #%d = %d", i, state.Revision)
		}
	}
}

func TestSave_StaleRevisionConflicts(t *testing.T) {
	s := newTestStore(t)

	first, _ := s.Load("funding")
	second, _ := s.Load("funding")

	if err := s.Save(first); err != nil {
		t.Fatalf("Save first: %v", err)
	}
	err := s.Save(second)
	if !errors.Is(err, models.ErrRevisionConflict) {
		t.Fatalf("stale save error = %v, want ErrRevisionConflict", err)
	}
}

func TestSave_StaleUpdateConflicts(t *testing.T) {
	s := newTestStore(t)

	state := models.NewTaskState("funding")
	if err := s.Save(state); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	a, _ := s.Load("funding")
	b, _ := s.Load("funding")
	if err := s.Save(a); err != nil {
		t.Fatalf("Save a: %v", err)
	}
	if err := s.Save(b); !errors.Is(err, models.ErrRevisionConflict) {
		t.Fatalf("stale update error = %v, want ErrRevisionConflict", err)
	}
}

func TestTasksAreIndependent(t *testing.T) {
	s := newTestStore(t)

	a := models.NewTaskState("task-a")
	b := models.NewTaskState("task-b")
	a.Record("x").IDs = []string{"a-1"}
	b.Record("x").IDs = []string{"b-1"}

	if err := s.Save(a); err != nil {
		t.Fatalf("Save a: %v", err)
	}
	if err := s.Save(b); err != nil {
		t.Fatalf("Save b: %v", err)
	}

	gotA, _ := s.Load("task-a")
	if gotA.Dedup["x"].IDs[0] != "a-1" {
		t.Errorf("task-a state polluted: %v", gotA.Dedup["x"].IDs)
	}
}
