package evaluator

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"github.com/danielpatrickdp/segment-replay/internal/criteria"
	"github.com/danielpatrickdp/segment-replay/internal/cvservice"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// #region region-evaluator
type regionCall func(ctx context.Context) ([]cvservice.ImageResult, error)

// regionEvaluator is the shared shape of the image and object evaluators:
// one request per criterion, judged together once every result is back.
type regionEvaluator struct {
	tracker  *requestTracker[cvservice.ImageResult]
	screen   world.Screenshotter
	timeout  time.Duration
	label    string
	awaiting string

	build  func(shot world.Screenshot, c *criteria.Criterion) (regionCall, error)
	within func(c *criteria.Criterion) *world.WithinRect
}

func (e *regionEvaluator) evaluate(ordinal int, list []*criteria.Criterion) []string {
	t := e.tracker
	batch := batchKey(ordinal, list)
	if !t.mu.TryLock() {
		return t.lastReported(batch, len(list), e.awaiting)
	}
	defer t.mu.Unlock()

	ready, busy := 0, 0
	for i := range list {
		k := requestKey{ordinal: ordinal, index: slot(list, i)}
		if _, ok := t.results[k]; ok {
			ready++
		}
		if _, ok := t.inFlight[k]; ok {
			busy++
		}
	}

	if ready == len(list) {
		out := make([]string, len(list))
		for i, c := range list {
			k := requestKey{ordinal: ordinal, index: slot(list, i)}
			out[i] = e.judge(ordinal, i, e.within(c), t.results[k])
			delete(t.results, k)
		}
		return t.report(batch, out)
	}
	if ready > 0 || busy > 0 {
		return t.lastReported(batch, len(list), e.awaiting)
	}

	shot, ok := e.screen.Screenshot(ordinal)
	if !ok {
		return fill(len(list), AwaitingScreenshot)
	}
	for i, c := range list {
		k := requestKey{ordinal: ordinal, index: slot(list, i)}
		call, err := e.build(shot, c)
		if err != nil {
			log.Printf("[CV] (%d) - %s - criteria at index %d cannot be requested: %v", ordinal, e.label, i, err)
			t.results[k] = []cvservice.ImageResult{}
			continue
		}
		t.dispatchLocked(k, e.timeout, call)
	}
	return t.lastReported(batch, len(list), e.awaiting)
}

// judge picks a qualifying candidate at random. Which one wins is not part of the contract.
func (e *regionEvaluator) judge(ordinal, index int, within *world.WithinRect, results []cvservice.ImageResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("Missing %s result for criteria at index: %d", e.label, index)
	}
	qualifying := results
	if within != nil {
		qualifying = qualifying[:0:0]
		for _, r := range results {
			if within.Intersects(r.Rect, r.Resolution) {
				qualifying = append(qualifying, r)
			}
		}
		if len(qualifying) == 0 {
			return fmt.Sprintf("%s result for criteria at index: %d was not found withinRect: %s", e.label, index, within)
		}
	}
	chosen := qualifying[rand.IntN(len(qualifying))]
	log.Printf("[CV] (%d) - %s - criteria at index %d matched rect %s of %d candidates", ordinal, e.label, index, chosen.Rect, len(qualifying))
	return ""
}
// #endregion region-evaluator

// #region image-evaluator
// CVImageEvaluator resolves CVImage criteria, one match request per criterion.
type CVImageEvaluator struct {
	regionEvaluator
}

func NewCVImageEvaluator(client cvservice.ImageMatcher, screen world.Screenshotter, images *ImageSource, timeout time.Duration) *CVImageEvaluator {
	if timeout <= 0 {
		timeout = cvservice.DefaultTimeout
	}
	e := &CVImageEvaluator{regionEvaluator{
		tracker:  newRequestTracker[cvservice.ImageResult]("cvimage"),
		screen:   screen,
		timeout:  timeout,
		label:    "CV Image",
		awaiting: AwaitingImage,
	}}
	e.within = func(c *criteria.Criterion) *world.WithinRect {
		if c.CVImage == nil {
			return nil
		}
		return c.CVImage.WithinRect
	}
	e.build = func(shot world.Screenshot, c *criteria.Criterion) (regionCall, error) {
		if c.CVImage == nil {
			return nil, fmt.Errorf("criterion %s carries no image data", c.Kind)
		}
		ref, err := images.Resolve(c.CVImage.ImageData)
		if err != nil {
			return nil, err
		}
		req := cvservice.ImageMatchRequest{
			Screenshot:   toImage(shot),
			ImageToMatch: ref,
			WithinRect:   c.CVImage.WithinRect,
			Threshold:    c.CVImage.Threshold,
		}
		return func(ctx context.Context) ([]cvservice.ImageResult, error) {
			return client.MatchImage(ctx, req)
		}, nil
	}
	return e
}

// Evaluate returns one reason per criterion, empty when matched.
func (e *CVImageEvaluator) Evaluate(ordinal int, list []*criteria.Criterion) []string {
	return e.evaluate(ordinal, list)
}

func (e *CVImageEvaluator) Cleanup(ordinal int) {
	e.tracker.cleanup(ordinal)
}

func (e *CVImageEvaluator) Reset() {
	e.tracker.reset()
}
// #endregion image-evaluator

// #region object-evaluator
// CVObjectEvaluator resolves CVObjectDetection criteria, one query per criterion.
type CVObjectEvaluator struct {
	regionEvaluator
}

func NewCVObjectEvaluator(client cvservice.ObjectQuerier, screen world.Screenshotter, images *ImageSource, timeout time.Duration) *CVObjectEvaluator {
	if timeout <= 0 {
		timeout = cvservice.DefaultTimeout
	}
	e := &CVObjectEvaluator{regionEvaluator{
		tracker:  newRequestTracker[cvservice.ImageResult]("cvobject"),
		screen:   screen,
		timeout:  timeout,
		label:    "CV Object Detection",
		awaiting: AwaitingObject,
	}}
	e.within = func(c *criteria.Criterion) *world.WithinRect {
		if c.CVObject == nil {
			return nil
		}
		return c.CVObject.WithinRect
	}
	e.build = func(shot world.Screenshot, c *criteria.Criterion) (regionCall, error) {
		if c.CVObject == nil {
			return nil, fmt.Errorf("criterion %s carries no object query", c.Kind)
		}
		if err := c.CVObject.Validate(); err != nil {
			return nil, err
		}
		req := cvservice.ObjectQueryRequest{
			Screenshot: toImage(shot),
			TextQuery:  c.CVObject.TextQuery,
			WithinRect: c.CVObject.WithinRect,
			Threshold:  c.CVObject.Threshold,
		}
		if c.CVObject.ImageQuery != nil {
			ref, err := images.Resolve(*c.CVObject.ImageQuery)
			if err != nil {
				return nil, err
			}
			req.ImageQuery = &ref
		}
		return func(ctx context.Context) ([]cvservice.ImageResult, error) {
			return client.QueryObjects(ctx, req)
		}, nil
	}
	return e
}

// Evaluate returns one reason per criterion, empty when matched.
func (e *CVObjectEvaluator) Evaluate(ordinal int, list []*criteria.Criterion) []string {
	return e.evaluate(ordinal, list)
}

func (e *CVObjectEvaluator) Cleanup(ordinal int) {
	e.tracker.cleanup(ordinal)
}

func (e *CVObjectEvaluator) Reset() {
	e.tracker.reset()
}
// #endregion object-evaluator
