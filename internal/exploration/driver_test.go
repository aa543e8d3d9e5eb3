package exploration

import (
	"errors"
	"testing"
	"time"

	"github.com/danielpatrickdp/segment-replay/internal/action"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// fakeAction embeds the interface so only the methods under test need bodies.
type fakeAction struct {
	action.Action
	name      string
	log       *[]string
	finishIn  int
	ticks     int
	unbounded bool
	fatal     bool
	stopped   bool
	aborted   bool
}

func (f *fakeAction) Start(int, world.Snapshot) { *f.log = append(*f.log, f.name) }
func (f *fakeAction) Stop(int)                  { f.stopped = true }
func (f *fakeAction) Abort(int)                 { f.aborted = true }
func (f *fakeAction) ReplayReset()              { f.ticks, f.stopped, f.aborted = 0, false, false }

func (f *fakeAction) Process(int, world.Snapshot) (bool, error) {
	f.ticks++
	if f.fatal {
		return false, action.ErrFatal
	}
	return true, nil
}

func (f *fakeAction) IsCompleted() (bool, bool) {
	if f.unbounded {
		return f.stopped, false
	}
	return f.ticks >= f.finishIn, true
}

func TestRoundsCycleThroughRememberedActions(t *testing.T) {
	var log []string
	d := New()
	for _, name := range []string{"a", "b", "c"} {
		d.Remember(&fakeAction{name: name, log: &log, finishIn: 1})
	}
	if err := d.Start(4); err != nil {
		t.Fatalf("start: %v", err)
	}
	for range 4 {
		acted, err := d.Perform(4, nil)
		if err != nil || !acted {
			t.Fatalf("perform: acted=%v err=%v", acted, err)
		}
	}

	want := []string{"c", "c", "b", "c", "b", "a", "c"}
	if len(log) != len(want) {
		t.Fatalf("expected %v, got %v", want, log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, log)
		}
	}
}

func TestRoundWaitsForRunningAction(t *testing.T) {
	var log []string
	d := New()
	d.Remember(&fakeAction{name: "old", log: &log, finishIn: 1})
	d.Remember(&fakeAction{name: "new", log: &log, finishIn: 2})
	if err := d.Start(1); err != nil {
		t.Fatalf("start: %v", err)
	}

	d.Perform(1, nil) // new runs
	d.Perform(1, nil) // new completes, round 1 starts
	d.Perform(1, nil) // round 1: new runs
	if got := len(log); got != 2 {
		t.Fatalf("expected two starts so far, got %v", log)
	}
	d.Perform(1, nil) // new completes, old runs and completes
	if log[len(log)-1] != "old" {
		t.Fatalf("expected old to follow new, got %v", log)
	}
}

func TestUnboundedActionIsStoppedAfterTimeout(t *testing.T) {
	var log []string
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := New()
	d.StepTimeout = time.Second
	d.Now = func() time.Time { return now }
	a := &fakeAction{name: "clicker", log: &log, unbounded: true}
	d.Remember(a)
	if err := d.Start(2); err != nil {
		t.Fatalf("start: %v", err)
	}

	d.Perform(2, nil)
	if a.stopped {
		t.Fatal("stopped too early")
	}
	now = now.Add(2 * time.Second)
	d.Perform(2, nil)
	if !a.stopped {
		t.Fatal("expected stop after timeout")
	}
}

func TestFatalActionFailsTheRound(t *testing.T) {
	var log []string
	d := New()
	d.Remember(&fakeAction{name: "broken", log: &log, fatal: true})
	if err := d.Start(3); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := d.Perform(3, nil); err != nil {
		t.Fatalf("fatal exploratory actions are not surfaced: %v", err)
	}
	d.Perform(3, nil)
	if len(log) != 2 {
		t.Fatalf("expected a retry next round, got %v", log)
	}
}

func TestStopAbortsRunningAction(t *testing.T) {
	var log []string
	d := New()
	a := &fakeAction{name: "slow", log: &log, finishIn: 10}
	d.Remember(a)
	if err := d.Start(5); err != nil {
		t.Fatalf("start: %v", err)
	}
	d.Perform(5, nil)
	d.Stop(5)
	if !a.aborted || d.Exploring() {
		t.Fatalf("expected abort and exit, aborted=%v exploring=%v", a.aborted, d.Exploring())
	}
	if acted, err := d.Perform(5, nil); acted || err != nil {
		t.Fatal("perform after stop must do nothing")
	}
}

func TestNothingRemembered(t *testing.T) {
	d := New()
	err := d.Start(1)
	if !errors.Is(err, ErrNoAction) {
		t.Fatalf("expected ErrNoAction, got %v", err)
	}
	if err.Error() != "no available exploratory action" {
		t.Fatalf("unexpected message %q", err)
	}
}

func TestRememberKeepsThreeNewestFirst(t *testing.T) {
	var log []string
	acts := map[string]*fakeAction{}
	d := New()
	for _, name := range []string{"a", "b", "c", "d"} {
		acts[name] = &fakeAction{name: name, log: &log, finishIn: 1}
		d.Remember(acts[name])
	}
	d.Remember(acts["b"])
	if d.Remembered() != 3 {
		t.Fatalf("expected 3 remembered, got %d", d.Remembered())
	}
	want := []*fakeAction{acts["b"], acts["d"], acts["c"]}
	for i, w := range want {
		if d.remembered[i] != w {
			t.Fatalf("position %d: expected %s", i, w.name)
		}
	}
}
