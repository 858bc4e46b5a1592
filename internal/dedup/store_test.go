package dedup

import (
	"fmt"
	"testing"
	"time"

	"github.com/blockcaptain/jackwatch/internal/models"
)

func TestIsNew_EmptyState(t *testing.T) {
	s := New(models.NewTaskState("test"))
	if !s.IsNew("news", "id-1") {
		t.Error("fresh state should report every id as new")
	}
}

func TestCommit_MarksSeen(t *testing.T) {
	s := New(models.NewTaskState("test"))
	s.Commit("news", []string{"id-1", "id-2"})

	if s.IsNew("news", "id-1") {
		t.Error("committed id reported as new")
	}
	if !s.IsNew("news", "id-3") {
		t.Error("uncommitted id reported as seen")
	}
	if !s.IsNew("economic", "id-1") {
		t.Error("commit leaked across categories")
	}
}

func TestCommit_Idempotent(t *testing.T) {
	s := New(models.NewTaskState("test"))
	s.Commit("news", []string{"id-1"})
	s.Commit("news", []string{"id-1"})

	rec := s.State().Dedup["news"]
	if len(rec.IDs) != 1 {
		t.Errorf("duplicate commit grew the record: %v", rec.IDs)
	}
}

func TestCommit_SurvivesReload(t *testing.T) {
	state := models.NewTaskState("test")
	New(state).Commit("news", []string{"id-1"})

	// A later run builds a fresh index over the same state.
	if New(state).IsNew("news", "id-1") {
		t.Error("commit did not survive index rebuild")
	}
}

func TestPrune_CountWindowKeepsTail(t *testing.T) {
	s := New(models.NewTaskState("test"))
	s.Commit("news", []string{"1", "2", "3"})
	s.Commit("news", []string{"4"})

	s.Prune("news", Policy{MaxIDs: 3}, time.Now())

	rec := s.State().Dedup["news"]
	want := []string{"2", "3", "4"}
	if len(rec.IDs) != len(want) {
		t.Fatalf("got %v, want %v", rec.IDs, want)
	}
	for i, id := range want {
		if rec.IDs[i] != id {
			t.Fatalf("got %v, want %v", rec.IDs, want)
		}
	}
	if !s.IsNew("news", "1") {
		t.Error("pruned id should be reported as new again")
	}
	if s.IsNew("news", "4") {
		t.Error("retained id should stay seen")
	}
}

func TestPrune_AgeWindowDropsOldBuckets(t *testing.T) {
	now := time.Now()
	oldID := models.DeltaEventID("BTC", models.LabelLongOpen, now.Add(-5*time.Hour), 15*time.Minute)
	newID := models.DeltaEventID("BTC", models.LabelLongOpen, now, 15*time.Minute)

	s := New(models.NewTaskState("test"))
	s.Commit("position", []string{oldID, newID})
	s.Prune("position", Policy{MaxAge: 4 * time.Hour}, now)

	rec := s.State().Dedup["position"]
	if len(rec.IDs) != 1 || rec.IDs[0] != newID {
		t.Fatalf("got %v, want only %s", rec.IDs, newID)
	}
	if !s.IsNew("position", oldID) {
		t.Error("aged-out id should be reported as new again")
	}
}

func TestPrune_AgeWindowKeepsUnparseableIDs(t *testing.T) {
	s := New(models.NewTaskState("test"))
	s.Commit("position", []string{"opaque-provider-id", "also|not|numeric"})
	s.Prune("position", Policy{MaxAge: time.Hour}, time.Now())

	rec := s.State().Dedup["position"]
	if len(rec.IDs) != 2 {
		t.Errorf("ids without a parseable bucket must survive age pruning, got %v", rec.IDs)
	}
}

func TestPrune_NoPolicyKeepsEverything(t *testing.T) {
	s := New(models.NewTaskState("test"))
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i)
	}
	s.Commit("news", ids)
	s.Prune("news", Policy{}, time.Now())

	if got := len(s.State().Dedup["news"].IDs); got != 50 {
		t.Errorf("got %d ids, want 50", got)
	}
}

func TestParseBucket(t *testing.T) {
	tests := []struct {
		id     string
		want   int64
		wantOK bool
	}{
		{"BTC|long-open|1700000000", 1700000000, true},
		{"A|B|0", 0, true},
		{"no-separator", 0, false},
		{"trailing|", 0, false},
		{"BTC|long-open|not-a-number", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, ok := parseBucket(tt.id)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("parseBucket(%q) = (%d, %v), want (%d, %v)", tt.id, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
