package keyframe

import (
	"fmt"
	"strings"

	"github.com/danielpatrickdp/segment-replay/internal/criteria"
	"github.com/danielpatrickdp/segment-replay/internal/evaluator"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// #region messages
const (
	WaitingForAction      = "Waiting for action to complete..."
	WaitingForValidations = "Waiting for validations to complete..."
)
// #endregion messages

// #region types
// CVEvaluator is one of the asynchronous CV-backed evaluators.
type CVEvaluator interface {
	Evaluate(ordinal int, list []*criteria.Criterion) []string
	Cleanup(ordinal int)
	Reset()
}

// Options wires the evaluators a key-frame evaluator dispatches to. Nil CV evaluators
// leave criteria of that kind permanently unmatched.
type Options struct {
	Pixels world.PixelHashObserver
	Text   CVEvaluator
	Image  CVEvaluator
	Object CVEvaluator
}

// Evaluator walks a segment's criteria tree against the current frame.
// prior is the snapshot of the last persisted key frame. It only moves on PersistPriorFrameStatus,
// so every segment in one tick is judged against the same baseline.
type Evaluator struct {
	paths  evaluator.PathEvaluator
	pixels *evaluator.PixelHashEvaluator
	text   CVEvaluator
	image  CVEvaluator
	object CVEvaluator

	prior   world.Snapshot
	current world.Snapshot
	deltas  map[string]world.PathDelta

	unmatched    []string
	newUnmatched []string
}

func New(opts Options) *Evaluator {
	return &Evaluator{
		pixels: evaluator.NewPixelHashEvaluator(opts.Pixels),
		text:   opts.Text,
		image:  opts.Image,
		object: opts.Object,
	}
}
// #endregion types

// #region frame
// BeginFrame installs the current snapshot and computes path deltas once for the frame.
func (e *Evaluator) BeginFrame(current world.Snapshot) {
	e.current = current
	e.deltas = world.Deltas(e.prior, current)
}

// PersistPriorFrameStatus makes the current frame the baseline for future deltas.
// Call it at most once per tick, after every window segment has been evaluated.
func (e *Evaluator) PersistPriorFrameStatus() {
	e.prior = e.current.Clone()
}

// Reset clears the baseline, diagnostics and every CV cache.
func (e *Evaluator) Reset() {
	e.prior = nil
	e.current = nil
	e.deltas = nil
	e.unmatched = e.unmatched[:0]
	e.newUnmatched = e.newUnmatched[:0]
	for _, cv := range []CVEvaluator{e.text, e.image, e.object} {
		if cv != nil {
			cv.Reset()
		}
	}
}

// UnmatchedCriteria returns the reasons of the last failed Matched call, CRLF separated.
func (e *Evaluator) UnmatchedCriteria() string {
	return strings.Join(e.unmatched, "\r\n")
}
// #endregion frame

// #region matched
// Matched reports whether the AND of list holds for segment ordinal. first is true only for the
// head of the lookahead window; pixel hash criteria never pass for later segments.
func (e *Evaluator) Matched(first bool, ordinal int, actionCompleted, validationsCompleted bool, list []*criteria.Criterion) bool {
	e.newUnmatched = e.newUnmatched[:0]
	q := query{first: first, ordinal: ordinal, actionCompleted: actionCompleted, validationsCompleted: validationsCompleted}
	ok := e.match(q, false, list)
	if ok {
		for _, cv := range []CVEvaluator{e.text, e.image, e.object} {
			if cv != nil {
				cv.Cleanup(ordinal)
			}
		}
		e.unmatched = e.unmatched[:0]
		e.newUnmatched = e.newUnmatched[:0]
		return true
	}
	e.unmatched, e.newUnmatched = e.newUnmatched, e.unmatched[:0]
	return false
}

type query struct {
	first                bool
	ordinal              int
	actionCompleted      bool
	validationsCompleted bool
}

func (e *Evaluator) miss(reason string) {
	e.newUnmatched = append(e.newUnmatched, reason)
}

// match evaluates one level of the tree. or selects OR semantics, otherwise AND.
func (e *Evaluator) match(q query, or bool, list []*criteria.Criterion) bool {
	var paths, partials, texts, images, objects, ors, ands []*criteria.Criterion

	for _, c := range list {
		if c.Settled() {
			if or {
				return true
			}
			continue
		}
		switch c.Kind {
		case criteria.KindAnd:
			ands = append(ands, c)
		case criteria.KindOr:
			ors = append(ors, c)
		case criteria.KindNormalizedPath:
			paths = append(paths, c)
		case criteria.KindPartialNormalizedPath:
			partials = append(partials, c)
		case criteria.KindCVText:
			texts = append(texts, c)
		case criteria.KindCVImage:
			images = append(images, c)
		case criteria.KindCVObjectDetection:
			objects = append(objects, c)
		default:
			reason := e.inline(q, c)
			if reason == "" {
				c.MarkMatched()
				if or {
					return true
				}
				continue
			}
			e.miss(reason)
			if !or {
				return false
			}
		}
	}

	type batch struct {
		list []*criteria.Criterion
		eval func(list []*criteria.Criterion) []string
	}
	pathEval := func(list []*criteria.Criterion) []string { return e.paths.Evaluate(list, e.deltas) }
	// CV first so requests go out as early as possible
	for _, b := range []batch{
		{objects, func(list []*criteria.Criterion) []string { return e.cv(e.object, "CV Object Detection", q.ordinal, list) }},
		{texts, func(list []*criteria.Criterion) []string { return e.cv(e.text, "CVText", q.ordinal, list) }},
		{images, func(list []*criteria.Criterion) []string { return e.cv(e.image, "CVImage", q.ordinal, list) }},
		{paths, pathEval},
		{partials, pathEval},
	} {
		if len(b.list) == 0 {
			continue
		}
		if decided, result := e.settle(or, b.list, b.eval(b.list)); decided {
			return result
		}
	}

	for _, c := range ors {
		if e.match(q, true, c.Children) {
			c.MarkMatched()
			if or {
				return true
			}
		} else if !or {
			return false
		}
	}
	for _, c := range ands {
		if e.match(q, false, c.Children) {
			c.MarkMatched()
			if or {
				return true
			}
		} else if !or {
			return false
		}
	}

	// AND holds when nothing failed; OR only when some child matched, which returned above
	return !or
}

func (e *Evaluator) inline(q query, c *criteria.Criterion) string {
	switch c.Kind {
	case criteria.KindUIPixelHash:
		if q.first && e.pixels.Changed() {
			return ""
		}
		return evaluator.PixelHashUnchanged
	case criteria.KindActionComplete:
		if q.actionCompleted {
			return ""
		}
		return WaitingForAction
	case criteria.KindValidationsComplete:
		if q.validationsCompleted {
			return ""
		}
		return WaitingForValidations
	}
	return fmt.Sprintf("Unsupported criteria type: %s", c.Kind)
}

func (e *Evaluator) cv(ev CVEvaluator, label string, ordinal int, list []*criteria.Criterion) []string {
	if ev == nil {
		out := make([]string, len(list))
		for i := range out {
			out[i] = label + " evaluation is not configured"
		}
		return out
	}
	return ev.Evaluate(ordinal, list)
}

// settle folds per-criterion reasons into the level's result. decided is false when the
// batch neither proves an OR nor breaks an AND.
func (e *Evaluator) settle(or bool, list []*criteria.Criterion, reasons []string) (decided, result bool) {
	for i, r := range reasons {
		if r == "" {
			if i < len(list) {
				list[i].MarkMatched()
			}
			if or {
				return true, true
			}
			continue
		}
		e.miss(r)
		if !or {
			return true, false
		}
	}
	return false, false
}
// #endregion matched
