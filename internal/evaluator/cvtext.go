package evaluator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/danielpatrickdp/segment-replay/internal/criteria"
	"github.com/danielpatrickdp/segment-replay/internal/cvservice"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// #region messages
const (
	AwaitingScreenshot = "Awaiting screenshot data ..."
	AwaitingText       = "Awaiting CVText evaluation results ..."
	AwaitingImage      = "Awaiting CVImage evaluation results ..."
	AwaitingObject     = "Awaiting CV Object Detection evaluation results ..."
)
// #endregion messages

// #region text-evaluator
// CVTextEvaluator resolves CVText criteria with one text discovery request per segment.
type CVTextEvaluator struct {
	tracker *requestTracker[cvservice.TextResult]
	client  cvservice.TextDiscoverer
	screen  world.Screenshotter
	timeout time.Duration
}

func NewCVTextEvaluator(client cvservice.TextDiscoverer, screen world.Screenshotter, timeout time.Duration) *CVTextEvaluator {
	if timeout <= 0 {
		timeout = cvservice.DefaultTimeout
	}
	return &CVTextEvaluator{
		tracker: newRequestTracker[cvservice.TextResult]("cvtext"),
		client:  client,
		screen:  screen,
		timeout: timeout,
	}
}

// Evaluate returns one reason per criterion, empty when matched. It never blocks:
// if the cache is busy it answers with the last reported reasons.
func (e *CVTextEvaluator) Evaluate(ordinal int, list []*criteria.Criterion) []string {
	t := e.tracker
	k := batchKey(ordinal, list)
	if !t.mu.TryLock() {
		return t.lastReported(k, len(list), AwaitingText)
	}
	defer t.mu.Unlock()

	if tokens, ok := t.results[k]; ok {
		delete(t.results, k)
		out := make([]string, len(list))
		for i, c := range list {
			if c.CVText == nil {
				continue
			}
			if missing := MatchText(c.CVText, tokens); len(missing) > 0 {
				out[i] = describeMissingText(c.CVText, missing)
			}
		}
		return t.report(k, out)
	}

	if _, busy := t.inFlight[k]; busy {
		return t.lastReported(k, len(list), AwaitingText)
	}

	shot, ok := e.screen.Screenshot(ordinal)
	if !ok {
		return fill(len(list), AwaitingScreenshot)
	}
	req := cvservice.TextDiscoverRequest{Screenshot: toImage(shot)}
	t.dispatchLocked(k, e.timeout, func(ctx context.Context) ([]cvservice.TextResult, error) {
		return e.client.DiscoverText(ctx, req)
	})
	return t.lastReported(k, len(list), AwaitingText)
}

// Cleanup cancels any in-flight request for the segment and forgets its results.
func (e *CVTextEvaluator) Cleanup(ordinal int) {
	e.tracker.cleanup(ordinal)
}

// Reset cancels everything.
func (e *CVTextEvaluator) Reset() {
	e.tracker.reset()
}

func describeMissingText(d *criteria.CVTextData, missing []string) string {
	within := "none"
	if d.WithinRect != nil {
		within = d.WithinRect.String()
	}
	return fmt.Sprintf("Missing CVText - text: %s, caseRule: %s, matchRule: %s, withinRect: %s, missingWords: [%s]",
		strings.TrimSpace(d.Text), d.TextCaseRule, d.TextMatchingRule, within, strings.Join(missing, ","))
}

func toImage(shot world.Screenshot) cvservice.Image {
	return cvservice.Image{Width: shot.Width, Height: shot.Height, Data: shot.JPEG}
}
// #endregion text-evaluator
