package runstore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hochfrequenz/twmd-batch/internal/domain"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_RecordAndList(t *testing.T) {
	store := newStore(t)

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	id, err := store.Record(Run{
		Target:     "alice",
		Login:      true,
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
		TotalLines: 20,
		Downloaded: 12,
		Exists:     7,
		Errors:     1,
		Verdict:    domain.VerdictTempSkip,
	})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected generated ID")
	}

	runs, err := store.List(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}

	got := runs[0]
	if got.ID != id {
		t.Errorf("ID = %q, want %q", got.ID, id)
	}
	if got.Target != "alice" || !got.Login {
		t.Errorf("got %+v", got)
	}
	if got.TotalLines != 20 || got.Downloaded != 12 || got.Exists != 7 || got.Errors != 1 {
		t.Errorf("counters = %+v", got)
	}
	if got.Verdict != domain.VerdictTempSkip {
		t.Errorf("Verdict = %q", got.Verdict)
	}
	if !got.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, start)
	}
	if got.FinishedAt.Sub(got.StartedAt) != time.Minute {
		t.Errorf("duration = %v", got.FinishedAt.Sub(got.StartedAt))
	}
}

func TestStore_ListFiltersAndLimits(t *testing.T) {
	store := newStore(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, name := range []string{"alice", "bob", "alice", "carol", "alice"} {
		start := base.Add(time.Duration(i) * time.Hour)
		if _, err := store.Record(Run{Target: name, StartedAt: start, FinishedAt: start, TotalLines: i}); err != nil {
			t.Fatal(err)
		}
	}

	alice, err := store.List(ListOptions{Target: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if len(alice) != 3 {
		t.Fatalf("alice runs = %d, want 3", len(alice))
	}
	if alice[0].TotalLines != 4 || alice[2].TotalLines != 0 {
		t.Errorf("expected newest first, got %d..%d", alice[0].TotalLines, alice[2].TotalLines)
	}

	limited, err := store.List(ListOptions{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited runs = %d, want 2", len(limited))
	}
	if limited[0].Target != "alice" || limited[1].Target != "carol" {
		t.Errorf("limited = %s, %s", limited[0].Target, limited[1].Target)
	}
}

func TestStore_RecordReport(t *testing.T) {
	store := newStore(t)

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ran := domain.Report{
		Target:    domain.Target{Name: "ghost"},
		Decision:  domain.DecisionRun,
		Login:     true,
		StartedAt: start,
		Result: &domain.RunResult{
			TotalLines: 1,
			Terminated: domain.OutcomeUserNotFound,
			Duration:   2 * time.Second,
		},
		Verdict: domain.VerdictPermaSkip,
		Err:     errors.New("disk full"),
	}
	skipped := domain.Report{
		Target:   domain.Target{Name: "carol"},
		Decision: domain.DecisionSkipTemporary,
	}

	for _, r := range []domain.Report{ran, skipped} {
		if err := store.RecordReport(r); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := store.List(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want only the executed one", len(runs))
	}
	got := runs[0]
	if got.Terminated != domain.OutcomeUserNotFound.String() {
		t.Errorf("Terminated = %q", got.Terminated)
	}
	if got.Error != "disk full" {
		t.Errorf("Error = %q", got.Error)
	}
	if got.FinishedAt.Sub(got.StartedAt) != 2*time.Second {
		t.Errorf("duration = %v", got.FinishedAt.Sub(got.StartedAt))
	}
}

func TestFromReport_NotRun(t *testing.T) {
	if _, ok := FromReport(domain.Report{Decision: domain.DecisionSkipPermanent}); ok {
		t.Error("skipped report should not convert")
	}
}

func TestNew_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	store, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.Record(Run{Target: "alice", StartedAt: time.Now(), FinishedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
}
