package playback

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/danielpatrickdp/segment-replay/internal/action"
	"github.com/danielpatrickdp/segment-replay/internal/criteria"
	"github.com/danielpatrickdp/segment-replay/internal/keyframe"
	"github.com/danielpatrickdp/segment-replay/internal/plan"
	"github.com/danielpatrickdp/segment-replay/internal/validation"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// #region fakes
// scriptedAction completes after finishAfter processes. A negative finishAfter means
// the action has no end of its own.
type scriptedAction struct {
	action.Action

	finishAfter int
	err         error
	panics      bool

	processed int
	started   int
	stopped   int
	aborted   int
}

func (a *scriptedAction) Start(int, world.Snapshot) { a.started++ }

func (a *scriptedAction) Process(int, world.Snapshot) (bool, error) {
	if a.panics {
		panic("boom")
	}
	a.processed++
	return true, a.err
}

func (a *scriptedAction) Stop(int)        { a.stopped++ }
func (a *scriptedAction) Abort(int)       { a.aborted++ }
func (a *scriptedAction) Pause(int)       {}
func (a *scriptedAction) Unpause(int)     {}
func (a *scriptedAction) ReplayReset()    { a.processed = 0 }
func (a *scriptedAction) APIVersion() int { return 0 }

func (a *scriptedAction) IsCompleted() (bool, bool) {
	if a.finishAfter < 0 {
		return false, false
	}
	return a.processed >= a.finishAfter, true
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type eventLog struct{ events []string }

func (r *eventLog) RunStarted(_, _ string, loop int) {
	r.events = append(r.events, fmt.Sprintf("start %d", loop))
}
func (r *eventLog) SegmentMatched(ordinal int, _ string) {
	r.events = append(r.events, fmt.Sprintf("matched %d", ordinal))
}
func (r *eventLog) SegmentCompleted(ordinal int, _ string) {
	r.events = append(r.events, fmt.Sprintf("completed %d", ordinal))
}
func (r *eventLog) Stalled(ordinal int, _ string) {
	r.events = append(r.events, fmt.Sprintf("stalled %d", ordinal))
}
func (r *eventLog) RunEnded(success bool, _ string, _ []validation.Result) {
	r.events = append(r.events, fmt.Sprintf("ended %v", success))
}
// #endregion fakes

// #region helpers
func withAction(a action.Action) *action.BotAction {
	return &action.BotAction{Type: action.KindMonkey, Data: a}
}

func path(p string) *criteria.Criterion {
	return criteria.NormalizedPath(criteria.PathData{Path: p, CountRule: criteria.CountNonZero})
}

func snapshot(paths ...string) world.Snapshot {
	s := world.Snapshot{}
	for i, p := range paths {
		id := int64(i + 1)
		s[id] = world.ObjectStatus{ID: id, Path: p}
	}
	return s
}

func newController(t *testing.T, opts Options, segs ...*plan.Segment) (*Controller, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts.Now = clock.now
	c := New(keyframe.New(keyframe.Options{}), opts)
	c.SetPlan(plan.NewContainer("session-1", segs, nil))
	return c, clock
}

func tick(t *testing.T, c *Controller, snap world.Snapshot) {
	t.Helper()
	if err := c.Tick(snap); err != nil {
		t.Fatalf("tick %d: %v", c.Status().Frame, err)
	}
}

func assertWindow(t *testing.T, c *Controller, want ...int) {
	t.Helper()
	got := c.Status().Window
	if want == nil {
		want = []int{}
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("window = %v, want %v", got, want)
	}
}
// #endregion helpers

// #region playback
func TestPlaysUntilCriteriaMatch(t *testing.T) {
	click := &scriptedAction{finishAfter: -1}
	c, _ := newController(t, Options{},
		&plan.Segment{Name: "click", BotAction: withAction(click)},
		&plan.Segment{Name: "enemy", EndCriteria: []*criteria.Criterion{path("Root/Enemy")}},
	)
	c.Play()
	if c.State() != Starting {
		t.Fatalf("state = %s", c.State())
	}

	tick(t, c, snapshot())
	assertWindow(t, c, 2)
	if click.started != 1 || click.stopped != 1 {
		t.Fatalf("click started %d stopped %d", click.started, click.stopped)
	}

	tick(t, c, snapshot("Root/Player"))
	tick(t, c, snapshot("Root/Player"))
	assertWindow(t, c, 2)
	if _, known := c.ReplayCompletedSuccessfully(); known {
		t.Fatal("outcome known before the plan finished")
	}

	tick(t, c, snapshot("Root/Player", "Root/Enemy"))
	assertWindow(t, c)
	ok, known := c.ReplayCompletedSuccessfully()
	if !ok || !known {
		t.Fatalf("outcome = %v known %v", ok, known)
	}
	if c.State() != Stopped {
		t.Fatalf("state = %s", c.State())
	}
}

func TestHeadWaitsForItsAction(t *testing.T) {
	walk := &scriptedAction{finishAfter: 3}
	c, _ := newController(t, Options{},
		&plan.Segment{Name: "walk", BotAction: withAction(walk)},
		&plan.Segment{Name: "enemy", EndCriteria: []*criteria.Criterion{path("Root/Enemy")}},
	)
	c.Play()

	tick(t, c, snapshot())
	assertWindow(t, c, 1, 2)
	if walk.stopped != 1 {
		t.Fatalf("stop requested %d times on first match", walk.stopped)
	}

	tick(t, c, snapshot())
	assertWindow(t, c, 1, 2)

	tick(t, c, snapshot())
	assertWindow(t, c, 2)
	if walk.stopped != 1 {
		t.Fatalf("stop requested %d times", walk.stopped)
	}

	tick(t, c, snapshot("Root/Enemy"))
	if ok, _ := c.ReplayCompletedSuccessfully(); !ok {
		t.Fatal("expected success")
	}
}

func TestTransientMatchOpensLookahead(t *testing.T) {
	first := &plan.Segment{Name: "door", EndCriteria: []*criteria.Criterion{
		path("Root/Ready").AsTransient(),
		path("Root/Door"),
	}}
	second := &plan.Segment{Name: "menu", EndCriteria: []*criteria.Criterion{path("Root/Menu").AsTransient()}}
	third := &plan.Segment{Name: "anything"}
	c, _ := newController(t, Options{}, first, second, third)
	c.Play()

	for range 4 {
		tick(t, c, snapshot("Root/Player"))
		assertWindow(t, c, 1)
	}

	tick(t, c, snapshot("Root/Ready"))
	assertWindow(t, c, 1, 2)
	if first.Matched() {
		t.Fatal("first segment matched without its door")
	}

	// the menu matches as lookahead; the window stays at two
	tick(t, c, snapshot("Root/Menu"))
	assertWindow(t, c, 1, 2)
	if second.Matched() {
		t.Fatal("lookahead segment must not be marked matched")
	}
	if !second.TransientMatched() {
		t.Fatal("lookahead transient match was not kept")
	}

	// the door opens after the menu vanished; the transient match still carries the second segment
	tick(t, c, snapshot("Root/Door"))
	assertWindow(t, c, 3)

	tick(t, c, snapshot())
	if ok, _ := c.ReplayCompletedSuccessfully(); !ok {
		t.Fatal("expected success")
	}
}

func TestSegmentValidationGatesMatch(t *testing.T) {
	seg := &plan.Segment{
		Name:        "boss",
		EndCriteria: []*criteria.Criterion{criteria.ValidationsComplete()},
		Validations: validation.Set{{Name: "boss seen", Mode: validation.Eventually, Expression: `exists("Root/Boss")`}},
	}
	c, _ := newController(t, Options{}, seg)
	c.Plan().Validations = validation.Set{{Name: "never crashed", Mode: validation.Always, Expression: `!exists("Root/CrashDialog")`}}
	c.Play()

	tick(t, c, snapshot("Root/Player"))
	assertWindow(t, c, 1)

	tick(t, c, snapshot("Root/Boss"))
	if ok, _ := c.ReplayCompletedSuccessfully(); !ok {
		t.Fatal("expected success")
	}
	results := c.Status().Validations
	if len(results) != 1 || results[0].Name != "never crashed" || results[0].Status != validation.Passed {
		t.Fatalf("unexpected results %+v", results)
	}
}
// #endregion playback

// #region lifecycle
func TestResetIsIdempotent(t *testing.T) {
	c, _ := newController(t, Options{},
		&plan.Segment{EndCriteria: []*criteria.Criterion{path("Root/A")}},
		&plan.Segment{EndCriteria: []*criteria.Criterion{path("Root/B")}},
	)
	c.Play()
	tick(t, c, snapshot("Root/A"))
	assertWindow(t, c, 2)

	c.Reset()
	c.Reset()
	if c.State() != Stopped {
		t.Fatalf("state = %s", c.State())
	}
	assertWindow(t, c)
	if got := c.Plan().Remaining(); got != 2 {
		t.Fatalf("remaining = %d", got)
	}

	c.Play()
	tick(t, c, snapshot())
	assertWindow(t, c, 1)
}

func TestLoopRestartsPlan(t *testing.T) {
	rec := &eventLog{}
	c, _ := newController(t, Options{Recorder: rec}, &plan.Segment{Name: "only"})

	var loops []int
	c.Loop(func(n int) { loops = append(loops, n) })
	tick(t, c, snapshot())
	tick(t, c, snapshot())

	if !reflect.DeepEqual(loops, []int{1, 2, 3}) {
		t.Fatalf("loops = %v", loops)
	}
	if c.State() != Starting {
		t.Fatalf("state = %s", c.State())
	}
	if _, known := c.ReplayCompletedSuccessfully(); known {
		t.Fatal("a loop never completes")
	}
	if got := c.Status().LoopCount; got != 3 {
		t.Fatalf("loop count = %d", got)
	}

	c.Stop()
	want := []string{"start 1", "matched 1", "completed 1", "ended true", "start 2", "matched 1", "completed 1", "ended true", "ended false"}
	if !reflect.DeepEqual(rec.events, want) {
		t.Fatalf("events = %v", rec.events)
	}
}

func TestPauseHoldsFrames(t *testing.T) {
	c, _ := newController(t, Options{}, &plan.Segment{EndCriteria: []*criteria.Criterion{path("Root/A")}})
	c.Play()
	tick(t, c, snapshot())
	c.Pause()
	if c.State() != Paused {
		t.Fatalf("state = %s", c.State())
	}
	tick(t, c, snapshot("Root/A"))
	if got := c.Status().Frame; got != 1 {
		t.Fatalf("frame advanced while paused: %d", got)
	}
	c.Unpause()
	tick(t, c, snapshot("Root/A"))
	if ok, _ := c.ReplayCompletedSuccessfully(); !ok {
		t.Fatal("expected success after unpause")
	}
}

func TestPlayRequiresPlan(t *testing.T) {
	c := New(keyframe.New(keyframe.Options{}), Options{})
	c.Play()
	if c.State() != NotLoaded {
		t.Fatalf("state = %s", c.State())
	}
	if err := c.Tick(snapshot()); err != nil {
		t.Fatalf("tick without plan: %v", err)
	}
}
// #endregion lifecycle

// #region failures
func TestFatalActionHalts(t *testing.T) {
	bad := &scriptedAction{finishAfter: -1, err: fmt.Errorf("window closed: %w", action.ErrFatal)}
	c, _ := newController(t, Options{HaltOnFatal: true},
		&plan.Segment{EndCriteria: []*criteria.Criterion{path("Root/Never")}, BotAction: withAction(bad)},
	)
	c.Play()

	err := c.Tick(snapshot())
	if !errors.Is(err, action.ErrFatal) {
		t.Fatalf("err = %v", err)
	}
	if c.State() != Stopped {
		t.Fatalf("state = %s", c.State())
	}
	if bad.aborted != 1 {
		t.Fatalf("aborted %d times", bad.aborted)
	}
	if !strings.Contains(c.Status().LastError, "window closed") {
		t.Fatalf("last error = %q", c.Status().LastError)
	}
}

func TestActionErrorReportedAfterQuietPeriod(t *testing.T) {
	bad := &scriptedAction{finishAfter: -1, err: errors.New("target not visible")}
	c, clock := newController(t, Options{},
		&plan.Segment{EndCriteria: []*criteria.Criterion{path("Root/Never")}, BotAction: withAction(bad)},
	)
	c.Play()

	tick(t, c, snapshot())
	if got := c.Status().StallReason; got != "" {
		t.Fatalf("stall reported early: %q", got)
	}

	clock.advance(11 * time.Second)
	tick(t, c, snapshot())
	got := c.Status().StallReason
	if !strings.Contains(got, "Error processing BotAction") || !strings.Contains(got, "target not visible") {
		t.Fatalf("stall reason = %q", got)
	}
	if c.State() != Playing {
		t.Fatalf("state = %s", c.State())
	}
}

func TestPanicStopsPlayback(t *testing.T) {
	c, _ := newController(t, Options{},
		&plan.Segment{EndCriteria: []*criteria.Criterion{path("Root/Never")}, BotAction: withAction(&scriptedAction{panics: true})},
	)
	c.Play()

	err := c.Tick(snapshot())
	var te *TickError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v", err)
	}
	if te.Ordinal != 1 {
		t.Fatalf("ordinal = %d", te.Ordinal)
	}
	if c.State() != Stopped {
		t.Fatalf("state = %s", c.State())
	}
	if !strings.Contains(c.Status().LastError, "Exception processing BotSegments") {
		t.Fatalf("last error = %q", c.Status().LastError)
	}
}

// startPanicRecorder fails while a run is being started.
type startPanicRecorder struct{ eventLog }

func (r *startPanicRecorder) RunStarted(string, string, int) { panic("recorder unavailable") }

func TestPanicWhileStartingStopsPlayback(t *testing.T) {
	rec := &startPanicRecorder{}
	c, _ := newController(t, Options{Recorder: rec},
		&plan.Segment{EndCriteria: []*criteria.Criterion{path("Root/Never")}},
	)
	c.Play()

	err := c.Tick(snapshot())
	var te *TickError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v", err)
	}
	if c.State() != Stopped {
		t.Fatalf("state = %s", c.State())
	}
	if c.Status().LastError == "" {
		t.Fatal("expected the panic to be reported")
	}
	if len(rec.events) != 1 || rec.events[0] != "ended false" {
		t.Fatalf("events = %v", rec.events)
	}
}

func TestPauseOnStall(t *testing.T) {
	c, clock := newController(t, Options{PauseOnStall: true},
		&plan.Segment{EndCriteria: []*criteria.Criterion{path("Root/Never")}},
	)
	c.Play()
	tick(t, c, snapshot())

	clock.advance(11 * time.Second)
	tick(t, c, snapshot())
	if c.State() != Paused {
		t.Fatalf("state = %s", c.State())
	}
	if got := c.Status().StallReason; !strings.Contains(got, "Unmatched Criteria") {
		t.Fatalf("stall reason = %q", got)
	}

	c.Unpause()
	if c.State() != Playing {
		t.Fatalf("state = %s", c.State())
	}
}
// #endregion failures

// #region exploration
func TestExplorationRetriesCompletedActions(t *testing.T) {
	opener := &scriptedAction{finishAfter: 1}
	c, clock := newController(t, Options{Explore: true},
		&plan.Segment{Name: "open", BotAction: withAction(opener)},
		&plan.Segment{Name: "chest", EndCriteria: []*criteria.Criterion{path("Root/Chest")}},
	)
	c.Play()

	tick(t, c, snapshot())
	assertWindow(t, c, 2)

	clock.advance(11 * time.Second)
	tick(t, c, snapshot())
	if !c.Status().Exploring {
		t.Fatal("expected exploration after stall")
	}

	tick(t, c, snapshot())
	if opener.started < 2 {
		t.Fatalf("remembered action started %d times", opener.started)
	}

	tick(t, c, snapshot("Root/Chest"))
	if c.Status().Exploring {
		t.Fatal("exploration kept running after match")
	}
	if ok, _ := c.ReplayCompletedSuccessfully(); !ok {
		t.Fatal("expected success")
	}
}

func TestExplorationWithNothingRemembered(t *testing.T) {
	c, clock := newController(t, Options{Explore: true},
		&plan.Segment{EndCriteria: []*criteria.Criterion{path("Root/Chest")}},
	)
	c.Play()
	tick(t, c, snapshot())

	clock.advance(11 * time.Second)
	tick(t, c, snapshot())
	if got := c.Status().StallReason; !strings.Contains(got, "no available exploratory action") {
		t.Fatalf("stall reason = %q", got)
	}
}
// #endregion exploration

// #region status
func TestPublishesStatus(t *testing.T) {
	var seen []Status
	rec := &eventLog{}
	c, _ := newController(t, Options{Recorder: rec, Publish: func(s Status) { seen = append(seen, s) }},
		&plan.Segment{EndCriteria: []*criteria.Criterion{path("Root/A")}},
	)
	c.Play()
	tick(t, c, snapshot("Root/A"))

	last := seen[len(seen)-1]
	if last.SessionID != "session-1" || last.Success == nil || !*last.Success {
		t.Fatalf("last status %+v", last)
	}
	want := []string{"start 0", "matched 1", "completed 1", "ended true"}
	if !reflect.DeepEqual(rec.events, want) {
		t.Fatalf("events = %v", rec.events)
	}
}
// #endregion status
