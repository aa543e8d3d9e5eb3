package evaluator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danielpatrickdp/segment-replay/internal/criteria"
	"github.com/danielpatrickdp/segment-replay/internal/cvservice"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

type stubScreen struct {
	ok bool
}

func (s stubScreen) Screenshot(int) (world.Screenshot, bool) {
	return world.Screenshot{Width: 1920, Height: 1080, JPEG: []byte{0xff, 0xd8}}, s.ok
}

// stubText answers with results, or blocks until its context is cancelled when block is set.
type stubText struct {
	calls     atomic.Int32
	results   []cvservice.TextResult
	block     bool
	cancelled chan error
}

func (s *stubText) DiscoverText(ctx context.Context, _ cvservice.TextDiscoverRequest) ([]cvservice.TextResult, error) {
	s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		s.cancelled <- ctx.Err()
		return nil, ctx.Err()
	}
	return s.results, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func hasResult[R any](tr *requestTracker[R], k requestKey) func() bool {
	return func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		_, ok := tr.results[k]
		return ok
	}
}

func gameOver() []*criteria.Criterion {
	return []*criteria.Criterion{criteria.CVText(criteria.CVTextData{
		Text:             "Game Over",
		TextMatchingRule: criteria.TextContains,
		TextCaseRule:     criteria.CaseIgnore,
	})}
}

func TestCVTextMatchesAfterResultArrives(t *testing.T) {
	client := &stubText{results: []cvservice.TextResult{{
		Text:       "game over screen",
		Rect:       world.Rect{X: 10, Y: 10, Width: 200, Height: 40},
		Resolution: world.Size{Width: 1920, Height: 1080},
	}}}
	e := NewCVTextEvaluator(client, stubScreen{ok: true}, time.Second)
	list := gameOver()

	first := e.Evaluate(1, list)
	if len(Unmatched(first)) != 1 || first[0] != AwaitingText {
		t.Fatalf("expected awaiting result on first poll, got %v", first)
	}

	waitFor(t, "text result", hasResult(e.tracker, requestKey{ordinal: 1}))

	second := e.Evaluate(1, list)
	if got := Unmatched(second); len(got) != 0 {
		t.Fatalf("expected match with no missing words, got %v", got)
	}
	if n := client.calls.Load(); n != 1 {
		t.Fatalf("expected a single request, got %d", n)
	}
}

func TestCVTextReportsMissingWords(t *testing.T) {
	client := &stubText{results: []cvservice.TextResult{{Text: "continue"}}}
	e := NewCVTextEvaluator(client, stubScreen{ok: true}, time.Second)
	list := gameOver()

	e.Evaluate(2, list)
	waitFor(t, "text result", hasResult(e.tracker, requestKey{ordinal: 2}))
	got := e.Evaluate(2, list)
	want := "Missing CVText - text: Game Over, caseRule: Ignore, matchRule: Contains, withinRect: none, missingWords: [Game,Over]"
	if got[0] != want {
		t.Fatalf("expected %q, got %q", want, got[0])
	}
}

func TestCVTextWithoutScreenshot(t *testing.T) {
	client := &stubText{}
	e := NewCVTextEvaluator(client, stubScreen{}, time.Second)
	got := e.Evaluate(1, gameOver())
	if got[0] != AwaitingScreenshot {
		t.Fatalf("expected screenshot wait, got %v", got)
	}
	if client.calls.Load() != 0 {
		t.Fatal("no request expected without a screenshot")
	}
}

func TestCVTextBusyLockReturnsLastReasons(t *testing.T) {
	client := &stubText{}
	e := NewCVTextEvaluator(client, stubScreen{ok: true}, time.Second)
	prior := []string{"Missing CVText - earlier"}
	e.tracker.report(requestKey{ordinal: 3}, prior)

	e.tracker.mu.Lock()
	got := e.Evaluate(3, gameOver())
	e.tracker.mu.Unlock()

	if len(got) != 1 || got[0] != prior[0] {
		t.Fatalf("expected last reported reasons, got %v", got)
	}
	if client.calls.Load() != 0 {
		t.Fatal("busy evaluator must not dispatch")
	}
}

func TestCVTextCleanupCancelsInFlight(t *testing.T) {
	client := &stubText{block: true, cancelled: make(chan error, 1)}
	e := NewCVTextEvaluator(client, stubScreen{ok: true}, time.Minute)

	e.Evaluate(4, gameOver())
	waitFor(t, "request start", func() bool { return client.calls.Load() == 1 })

	e.Cleanup(4)

	select {
	case err := <-client.cancelled:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request was not cancelled")
	}

	e.tracker.mu.Lock()
	defer e.tracker.mu.Unlock()
	for k := range e.tracker.inFlight {
		if k.ordinal == 4 {
			t.Fatal("in-flight entry survived cleanup")
		}
	}
	for k := range e.tracker.results {
		if k.ordinal == 4 {
			t.Fatal("result entry survived cleanup")
		}
	}
}

type stubImages struct {
	results []cvservice.ImageResult
}

func (s stubImages) MatchImage(context.Context, cvservice.ImageMatchRequest) ([]cvservice.ImageResult, error) {
	return s.results, nil
}

func TestCVImageWithinRect(t *testing.T) {
	within := &world.WithinRect{ScreenSize: world.Size{Width: 1920, Height: 1080}, Rect: world.Rect{X: 0, Y: 0, Width: 100, Height: 100}}
	client := stubImages{results: []cvservice.ImageResult{{
		Rect:       world.Rect{X: 500, Y: 500, Width: 20, Height: 20},
		Resolution: world.Size{Width: 1920, Height: 1080},
	}}}
	e := NewCVImageEvaluator(client, stubScreen{ok: true}, nil, time.Second)
	list := []*criteria.Criterion{
		criteria.CVImage(criteria.CVImageData{ImageData: "aGVsbG8=", WithinRect: within}),
		criteria.CVImage(criteria.CVImageData{ImageData: "aGVsbG8="}),
	}

	first := e.Evaluate(1, list)
	if len(Unmatched(first)) != 2 {
		t.Fatalf("expected both awaiting, got %v", first)
	}
	waitFor(t, "image results", func() bool {
		return hasResult(e.tracker, requestKey{ordinal: 1, index: 0})() && hasResult(e.tracker, requestKey{ordinal: 1, index: 1})()
	})

	got := e.Evaluate(1, list)
	want := "CV Image result for criteria at index: 0 was not found withinRect: " + within.String()
	if got[0] != want {
		t.Fatalf("expected %q, got %q", want, got[0])
	}
	if got[1] != "" {
		t.Fatalf("expected unconstrained criterion to match, got %q", got[1])
	}
}

func TestCVImageNestedLevelsKeepSeparateResults(t *testing.T) {
	within := &world.WithinRect{ScreenSize: world.Size{Width: 1920, Height: 1080}, Rect: world.Rect{X: 0, Y: 0, Width: 100, Height: 100}}
	client := stubImages{results: []cvservice.ImageResult{{
		Rect:       world.Rect{X: 500, Y: 500, Width: 20, Height: 20},
		Resolution: world.Size{Width: 1920, Height: 1080},
	}}}
	e := NewCVImageEvaluator(client, stubScreen{ok: true}, nil, time.Second)

	top := criteria.CVImage(criteria.CVImageData{ImageData: "aGVsbG8=", WithinRect: within})
	nested := criteria.CVImage(criteria.CVImageData{ImageData: "aGVsbG8="})
	criteria.Number([]*criteria.Criterion{top, criteria.Or(nested)})

	// each level is the first of its batch, so positions alone would collide
	e.Evaluate(1, []*criteria.Criterion{top})
	e.Evaluate(1, []*criteria.Criterion{nested})
	waitFor(t, "both levels", func() bool {
		return hasResult(e.tracker, requestKey{ordinal: 1, index: top.Index()})() &&
			hasResult(e.tracker, requestKey{ordinal: 1, index: nested.Index()})()
	})

	if got := e.Evaluate(1, []*criteria.Criterion{nested}); got[0] != "" {
		t.Fatalf("expected nested criterion to match, got %q", got[0])
	}
	want := "CV Image result for criteria at index: 0 was not found withinRect: " + within.String()
	if got := e.Evaluate(1, []*criteria.Criterion{top}); got[0] != want {
		t.Fatalf("expected %q, got %q", want, got[0])
	}
}

func TestCVImageBadReferenceIsMissing(t *testing.T) {
	e := NewCVImageEvaluator(stubImages{}, stubScreen{ok: true}, nil, time.Second)
	list := []*criteria.Criterion{criteria.CVImage(criteria.CVImageData{ImageData: "resource://logo.png"})}

	e.Evaluate(7, list)
	got := e.Evaluate(7, list)
	if got[0] != "Missing CV Image result for criteria at index: 0" {
		t.Fatalf("unexpected reason %q", got[0])
	}
}
