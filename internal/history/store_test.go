package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/segment-replay/internal/validation"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func steppingClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestRecorderWritesRun(t *testing.T) {
	s := tempDB(t)
	s.Now = steppingClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	s.RunStarted("session-1", "plans/boss", 0)
	runID := s.ActiveRun()
	if runID == "" {
		t.Fatal("expected an active run")
	}
	s.SegmentMatched(1, "open door")
	s.SegmentCompleted(1, "open door")
	s.Stalled(2, "(2) - Bot Segment - Unmatched Criteria")
	s.RunEnded(true, "completed", []validation.Result{{Name: "never crashed", Status: validation.Passed}})

	if s.ActiveRun() != "" {
		t.Fatal("run still active after RunEnded")
	}

	run, err := s.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.SessionID != "session-1" || run.Plan != "plans/boss" {
		t.Fatalf("unexpected run %+v", run)
	}
	if !run.Ended || !run.Success || run.Reason != "completed" {
		t.Fatalf("unexpected outcome %+v", run)
	}
	if !run.EndedAt.After(run.StartedAt) {
		t.Fatalf("ended %v not after started %v", run.EndedAt, run.StartedAt)
	}
	var results []validation.Result
	if err := json.Unmarshal([]byte(run.Validations), &results); err != nil {
		t.Fatalf("validations json: %v", err)
	}
	if len(results) != 1 || results[0].Status != validation.Passed {
		t.Fatalf("unexpected validations %+v", results)
	}

	events, err := s.SegmentEvents(runID)
	if err != nil {
		t.Fatalf("SegmentEvents: %v", err)
	}
	if len(events) != 2 || events[0].Event != EventMatched || events[1].Event != EventCompleted {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[0].Name != "open door" || events[0].Ordinal != 1 {
		t.Fatalf("unexpected first event %+v", events[0])
	}

	stalls, err := s.Stalls(runID)
	if err != nil {
		t.Fatalf("Stalls: %v", err)
	}
	if len(stalls) != 1 || stalls[0].Ordinal != 2 {
		t.Fatalf("unexpected stalls %+v", stalls)
	}
}

func TestEventsWithoutRunAreDropped(t *testing.T) {
	s := tempDB(t)
	s.SegmentMatched(1, "ignored")
	s.Stalled(1, "ignored")
	s.RunEnded(false, "stopped", nil)

	runs, err := s.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs, got %d", len(runs))
	}
}

func TestEndRunKeepsFirstOutcome(t *testing.T) {
	s := tempDB(t)
	id, err := s.BeginRun("session-1", "", 0)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := s.EndRun(id, false, "stopped", nil); err != nil {
		t.Fatalf("EndRun: %v", err)
	}
	if err := s.EndRun(id, true, "completed", nil); err != nil {
		t.Fatalf("second EndRun: %v", err)
	}
	run, err := s.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Success || run.Reason != "stopped" || run.Validations != "" {
		t.Fatalf("unexpected run %+v", run)
	}

	if err := s.EndRun("missing", true, "", nil); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := tempDB(t)
	s.Now = steppingClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	var ids []string
	for loop := 1; loop <= 3; loop++ {
		s.RunStarted("session-1", "plan", loop)
		ids = append(ids, s.ActiveRun())
		s.RunEnded(true, "loop complete", nil)
	}

	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != ids[2] || runs[0].Loop != 3 || runs[1].RunID != ids[1] {
		t.Fatalf("unexpected order %+v", runs)
	}
}

func TestNewStoreBadPath(t *testing.T) {
	_, err := NewStore(filepath.Join(string(os.PathSeparator), "nonexistent", "deep", "path", "history.db"))
	if err == nil {
		t.Fatal("expected error for bad path")
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := tempDB(t)
	if _, err := s.GetRun("nope"); err == nil {
		t.Fatal("expected error")
	}
}
