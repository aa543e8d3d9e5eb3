package action

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/danielpatrickdp/segment-replay/internal/criteria"
	"github.com/danielpatrickdp/segment-replay/internal/cvservice"
	"github.com/danielpatrickdp/segment-replay/internal/evaluator"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// #region mouse-details
// MouseStep is one button state applied at the detected location, held for Duration seconds
// before the next step. Duration <= 0 means a single tick.
type MouseStep struct {
	APIVersion int         `json:"apiVersion"`
	Left       bool        `json:"leftButton"`
	Middle     bool        `json:"middleButton"`
	Right      bool        `json:"rightButton"`
	Forward    bool        `json:"forwardButton"`
	Back       bool        `json:"backButton"`
	Scroll     world.Point `json:"scroll"`
	Duration   float64     `json:"duration"`
}

func stepsVersion(v int, steps []MouseStep) int {
	for _, s := range steps {
		v = max(v, s.APIVersion)
	}
	return v
}
// #endregion mouse-details

// #region click-sequence
// locateFunc asks the CV service where to click. A nil rect with an empty miss means nothing was found.
type locateFunc func(ctx context.Context, shot world.Screenshot) (bounds *world.Rect, miss string, err error)

// clickSequence is the runtime shared by the CV-directed mouse actions. It issues one detection
// per stale cycle and then walks its steps at the detected centre. The request goroutine
// only touches the fields under mu; next is always 0 while a request is in flight.
type clickSequence struct {
	label string

	stopped bool
	next    int
	nextAt  time.Time
	clock   pauseClock

	mu        sync.Mutex
	inFlight  bool
	requestID uint64
	cancel    context.CancelFunc
	received  bool
	bounds    *world.Rect
	lastErr   string
}

func (s *clickSequence) request(ordinal int, env *Env, locate locateFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return
	}
	if env == nil || env.Screen == nil {
		return
	}
	shot, ok := env.Screen.Screenshot(ordinal)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), env.cvTimeout())
	s.requestID++
	id := s.requestID
	s.inFlight = true
	s.received = false
	s.bounds = nil
	s.cancel = cancel

	go func() {
		defer cancel()
		bounds, miss, err := locate(ctx, shot)
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.inFlight || s.requestID != id {
			return
		}
		s.inFlight = false
		s.cancel = nil
		s.received = true
		if err != nil {
			log.Printf("[ACTION] (%d) - %s - request failed: %v", ordinal, s.label, err)
			s.bounds = nil
			return
		}
		s.bounds = bounds
		s.lastErr = miss
	}()
}

func (s *clickSequence) cancelLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.inFlight = false
}

func (s *clickSequence) process(ordinal int, env *Env, steps []MouseStep, locate locateFunc) (bool, error) {
	if len(steps) == 0 {
		s.stopped = true
	}
	if s.stopped || s.clock.paused() {
		return false, s.lastError()
	}
	now := env.now()
	if now.Before(s.nextAt) {
		return false, s.lastError()
	}
	// the last step still holds for its duration before the sequence completes
	if s.next >= len(steps) {
		s.stopped = true
		return false, nil
	}

	s.mu.Lock()
	switch {
	case !s.received:
		msg := s.label + " - waiting for CV evaluation results ..."
		s.lastErr = msg
		s.mu.Unlock()
		s.request(ordinal, env, locate)
		return false, errors.New(msg)
	case s.bounds == nil:
		if s.lastErr == "" {
			s.lastErr = s.label + " - target not found in current screen ..."
		}
		msg := s.lastErr
		s.received = false
		s.mu.Unlock()
		s.request(ordinal, env, locate)
		return false, errors.New(msg)
	}
	bounds := *s.bounds
	s.lastErr = ""
	s.mu.Unlock()

	step := steps[s.next]
	s.next++
	s.nextAt = now.Add(time.Duration(step.Duration * float64(time.Second)))
	pos := bounds.Center()
	log.Printf("[ACTION] (%d) - %s - step %d/%d at %s", ordinal, s.label, s.next, len(steps), pos)
	env.sendMouse(world.MouseEvent{
		Ordinal:  ordinal,
		Position: pos,
		Left:     step.Left,
		Middle:   step.Middle,
		Right:    step.Right,
		Forward:  step.Forward,
		Back:     step.Back,
		Scroll:   step.Scroll,
	})
	return true, nil
}

func (s *clickSequence) lastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr == "" {
		return nil
	}
	return errors.New(s.lastErr)
}

func (s *clickSequence) abort() {
	s.stopped = true
	s.mu.Lock()
	s.cancelLocked()
	s.mu.Unlock()
}

// pause holds the current step; resume extends its deadline by the time spent paused.
func (s *clickSequence) pause(env *Env) { s.clock.pause(env.now()) }

func (s *clickSequence) resume(env *Env) {
	s.nextAt = shift(s.nextAt, s.clock.resume(env.now()))
}

func (s *clickSequence) reset() {
	s.stopped = false
	s.next = 0
	s.nextAt = time.Time{}
	s.clock.reset()
	s.mu.Lock()
	s.cancelLocked()
	s.received = false
	s.bounds = nil
	s.lastErr = ""
	s.mu.Unlock()
}

// screenWithin turns a detection-space rect into screen space.
func screenWithin(env *Env, within *world.WithinRect) *world.WithinRect {
	if within != nil {
		return within
	}
	if env == nil || env.ScreenSize.Width <= 0 || env.ScreenSize.Height <= 0 {
		return nil
	}
	return &world.WithinRect{
		ScreenSize: env.ScreenSize,
		Rect:       world.Rect{Width: env.ScreenSize.Width, Height: env.ScreenSize.Height},
	}
}

// pickRegion chooses a random candidate inside within and returns it in screen space.
func pickRegion(env *Env, within *world.WithinRect, results []cvservice.ImageResult) *world.Rect {
	var qualifying []cvservice.ImageResult
	for _, r := range results {
		if within == nil || within.Intersects(r.Rect, r.Resolution) {
			qualifying = append(qualifying, r)
		}
	}
	if len(qualifying) == 0 {
		return nil
	}
	chosen := qualifying[env.intN(len(qualifying))]
	rect := chosen.Rect
	if within != nil {
		rect = within.Project(chosen.Rect, chosen.Resolution)
	}
	return &rect
}

func toImage(shot world.Screenshot) cvservice.Image {
	return cvservice.Image{Width: shot.Width, Height: shot.Height, Data: shot.JPEG}
}
// #endregion click-sequence

// #region cv-text-mouse
// CVTextMouse clicks where a phrase is found on screen. It does not stop on match; the queued
// steps always finish so no button is left held.
type CVTextMouse struct {
	Version          int                       `json:"apiVersion"`
	Text             string                    `json:"text"`
	TextMatchingRule criteria.TextMatchingRule `json:"textMatchingRule"`
	TextCaseRule     criteria.TextCaseRule     `json:"textCaseRule"`
	WithinRect       *world.WithinRect         `json:"withinRect,omitempty"`
	Actions          []MouseStep               `json:"actions"`

	env *Env
	seq clickSequence
}

func (a *CVTextMouse) bind(env *Env) {
	a.env = env
	a.seq.label = "CVTextMouse"
}

func (a *CVTextMouse) APIVersion() int { return stepsVersion(a.Version, a.Actions) }

func (a *CVTextMouse) locate(ctx context.Context, shot world.Screenshot) (*world.Rect, string, error) {
	if a.env == nil || a.env.Texts == nil {
		return nil, "", errors.New("no text discovery service configured")
	}
	results, err := a.env.Texts.DiscoverText(ctx, cvservice.TextDiscoverRequest{Screenshot: toImage(shot)})
	if err != nil {
		return nil, "", err
	}
	d := &criteria.CVTextData{
		Text:             a.Text,
		TextMatchingRule: a.TextMatchingRule,
		TextCaseRule:     a.TextCaseRule,
		WithinRect:       screenWithin(a.env, a.WithinRect),
	}
	if d.TextMatchingRule == "" {
		d.TextMatchingRule = criteria.TextMatches
	}
	if d.TextCaseRule == "" {
		d.TextCaseRule = criteria.CaseMatches
	}
	if missing := evaluator.MatchText(d, results); len(missing) > 0 {
		return nil, fmt.Sprintf("CVTextMouse - TextData not found in current screen - text: %s, missingWords: %v", a.Text, missing), nil
	}
	bounds, ok := evaluator.BestTextBounds(d, results)
	if !ok {
		return nil, "", nil
	}
	return &bounds, "", nil
}

func (a *CVTextMouse) Start(ordinal int, _ world.Snapshot) {
	a.seq.request(ordinal, a.env, a.locate)
}

func (a *CVTextMouse) Process(ordinal int, _ world.Snapshot) (bool, error) {
	return a.seq.process(ordinal, a.env, a.Actions, a.locate)
}

func (a *CVTextMouse) Stop(int)                  {}
func (a *CVTextMouse) Abort(int)                 { a.seq.abort() }
func (a *CVTextMouse) Pause(int)                 { a.seq.pause(a.env) }
func (a *CVTextMouse) Unpause(int)               { a.seq.resume(a.env) }
func (a *CVTextMouse) IsCompleted() (bool, bool) { return a.seq.stopped, true }
func (a *CVTextMouse) ReplayReset()              { a.seq.reset() }
// #endregion cv-text-mouse

// #region cv-image-mouse
// CVImageMouse clicks where a reference image is found on screen.
type CVImageMouse struct {
	Version    int               `json:"apiVersion"`
	ImageData  string            `json:"imageData"`
	WithinRect *world.WithinRect `json:"withinRect,omitempty"`
	Threshold  *float64          `json:"threshold,omitempty"`
	Actions    []MouseStep       `json:"actions"`

	env *Env
	seq clickSequence
}

func (a *CVImageMouse) bind(env *Env) {
	a.env = env
	a.seq.label = "CVImageMouse"
}

func (a *CVImageMouse) APIVersion() int { return stepsVersion(a.Version, a.Actions) }

func (a *CVImageMouse) locate(ctx context.Context, shot world.Screenshot) (*world.Rect, string, error) {
	if a.env == nil || a.env.Images == nil {
		return nil, "", errors.New("no image matching service configured")
	}
	ref, err := a.env.Refs.Resolve(a.ImageData)
	if err != nil {
		return nil, "", err
	}
	results, err := a.env.Images.MatchImage(ctx, cvservice.ImageMatchRequest{
		Screenshot:   toImage(shot),
		ImageToMatch: ref,
		WithinRect:   a.WithinRect,
		Threshold:    a.Threshold,
	})
	if err != nil {
		return nil, "", err
	}
	return pickRegion(a.env, screenWithin(a.env, a.WithinRect), results), "", nil
}

func (a *CVImageMouse) Start(ordinal int, _ world.Snapshot) {
	a.seq.request(ordinal, a.env, a.locate)
}

func (a *CVImageMouse) Process(ordinal int, _ world.Snapshot) (bool, error) {
	return a.seq.process(ordinal, a.env, a.Actions, a.locate)
}

func (a *CVImageMouse) Stop(int)                  {}
func (a *CVImageMouse) Abort(int)                 { a.seq.abort() }
func (a *CVImageMouse) Pause(int)                 { a.seq.pause(a.env) }
func (a *CVImageMouse) Unpause(int)               { a.seq.resume(a.env) }
func (a *CVImageMouse) IsCompleted() (bool, bool) { return a.seq.stopped, true }
func (a *CVImageMouse) ReplayReset()              { a.seq.reset() }
// #endregion cv-image-mouse

// #region cv-object-mouse
// CVObjectMouse clicks on an object found by text or image query.
type CVObjectMouse struct {
	Version    int               `json:"apiVersion"`
	TextQuery  *string           `json:"textQuery,omitempty"`
	ImageQuery *string           `json:"imageQuery,omitempty"`
	WithinRect *world.WithinRect `json:"withinRect,omitempty"`
	Threshold  *float64          `json:"threshold,omitempty"`
	Actions    []MouseStep       `json:"actions"`

	env *Env
	seq clickSequence
}

func (a *CVObjectMouse) bind(env *Env) {
	a.env = env
	a.seq.label = "CVObjectMouse"
}

func (a *CVObjectMouse) APIVersion() int { return stepsVersion(a.Version, a.Actions) }

func (a *CVObjectMouse) locate(ctx context.Context, shot world.Screenshot) (*world.Rect, string, error) {
	if a.env == nil || a.env.Objects == nil {
		return nil, "", errors.New("no object detection service configured")
	}
	req := cvservice.ObjectQueryRequest{
		Screenshot: toImage(shot),
		TextQuery:  a.TextQuery,
		WithinRect: a.WithinRect,
		Threshold:  a.Threshold,
	}
	if a.ImageQuery != nil {
		ref, err := a.env.Refs.Resolve(*a.ImageQuery)
		if err != nil {
			return nil, "", err
		}
		req.ImageQuery = &ref
	}
	if err := req.Validate(); err != nil {
		return nil, "", err
	}
	results, err := a.env.Objects.QueryObjects(ctx, req)
	if err != nil {
		return nil, "", err
	}
	return pickRegion(a.env, screenWithin(a.env, a.WithinRect), results), "", nil
}

func (a *CVObjectMouse) Start(ordinal int, _ world.Snapshot) {
	a.seq.request(ordinal, a.env, a.locate)
}

func (a *CVObjectMouse) Process(ordinal int, _ world.Snapshot) (bool, error) {
	return a.seq.process(ordinal, a.env, a.Actions, a.locate)
}

func (a *CVObjectMouse) Stop(int)                  {}
func (a *CVObjectMouse) Abort(int)                 { a.seq.abort() }
func (a *CVObjectMouse) Pause(int)                 { a.seq.pause(a.env) }
func (a *CVObjectMouse) Unpause(int)               { a.seq.resume(a.env) }
func (a *CVObjectMouse) IsCompleted() (bool, bool) { return a.seq.stopped, true }
func (a *CVObjectMouse) ReplayReset()              { a.seq.reset() }
// #endregion cv-object-mouse
