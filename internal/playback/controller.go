package playback

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/danielpatrickdp/segment-replay/internal/action"
	"github.com/danielpatrickdp/segment-replay/internal/exploration"
	"github.com/danielpatrickdp/segment-replay/internal/keyframe"
	"github.com/danielpatrickdp/segment-replay/internal/metrics"
	"github.com/danielpatrickdp/segment-replay/internal/plan"
	"github.com/danielpatrickdp/segment-replay/internal/validation"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// maxWindow is how many segments are evaluated at once.
const maxWindow = 2

// #region options
// Options tune the controller. The zero value is usable.
type Options struct {
	// HaltOnFatal stops playback when an action reports action.ErrFatal.
	HaltOnFatal bool
	// PauseOnStall pauses playback whenever a stall warning is logged.
	PauseOnStall bool
	// Explore retries remembered actions when the first segment stalls after its action completed.
	Explore bool
	// LogInterval is the quiet period before a stall warning. Defaults to 10s.
	LogInterval time.Duration

	Now      func() time.Time
	Recorder Recorder
	// Publish receives a status snapshot after every change.
	Publish func(Status)
}
// #endregion options

// #region controller
// Controller schedules a plan against the application one tick at a time.
// Tick and the lifecycle methods must be called from one goroutine. Status may be read from any.
type Controller struct {
	opts     Options
	eval     *keyframe.Evaluator
	explorer *exploration.Driver
	rec      Recorder

	container *plan.Container
	state     State
	window    []*plan.Segment
	loopCount int
	onLoop    func(int)
	success   *bool
	results   []validation.Result
	frame     int

	stall       *stallTimer
	stallReason string
	lastErr     error

	mu     sync.RWMutex
	status Status
}

func New(eval *keyframe.Evaluator, opts Options) *Controller {
	c := &Controller{
		opts:      opts,
		eval:      eval,
		explorer:  exploration.New(),
		rec:       opts.Recorder,
		loopCount: -1,
	}
	if c.rec == nil {
		c.rec = nopRecorder{}
	}
	if opts.Now != nil {
		c.explorer.Now = opts.Now
	}
	c.stall = newStallTimer(opts.LogInterval, c.now())
	c.publish()
	return c
}

func (c *Controller) now() time.Time {
	if c.opts.Now == nil {
		return time.Now()
	}
	return c.opts.Now()
}
// #endregion controller

// #region lifecycle
// SetPlan stops any playback and loads a new plan.
func (c *Controller) SetPlan(p *plan.Container) {
	c.Stop()
	c.container = p
	c.success = nil
	c.results = nil
	if p != nil {
		c.state = Stopped
	} else {
		c.state = NotLoaded
	}
	c.publish()
}

func (c *Controller) Plan() *plan.Container { return c.container }
func (c *Controller) State() State          { return c.state }

// Play starts the plan on the next tick. It does nothing unless stopped.
func (c *Controller) Play() {
	if c.container == nil || c.state != Stopped {
		return
	}
	c.success = nil
	c.loopCount = -1
	c.onLoop = nil
	c.state = Starting
	c.stall.touch(c.now())
	c.publish()
}

// Loop plays the plan repeatedly. onLoop receives the loop number, starting at 1.
func (c *Controller) Loop(onLoop func(count int)) {
	if c.container == nil || c.state != Stopped {
		return
	}
	c.success = nil
	c.loopCount = 1
	c.onLoop = onLoop
	c.state = Starting
	c.stall.touch(c.now())
	if onLoop != nil {
		onLoop(c.loopCount)
	}
	c.publish()
}

func (c *Controller) Pause() {
	if c.state != Playing {
		return
	}
	for _, s := range c.window {
		s.PauseAction()
	}
	c.container.Validations.Pause()
	c.state = Paused
	metrics.SetPlaying(false)
	log.Printf("[PLAYBACK] paused")
	c.publish()
}

// Unpause resumes playback. The stall timer restarts so time spent paused is not a stall.
func (c *Controller) Unpause() {
	if c.state != Paused {
		return
	}
	for _, s := range c.window {
		s.UnpauseAction()
	}
	c.container.Validations.Unpause()
	c.state = Playing
	c.stall.touch(c.now())
	metrics.SetPlaying(true)
	log.Printf("[PLAYBACK] unpaused")
	c.publish()
}

// Stop aborts every in-flight action and rewinds the plan.
func (c *Controller) Stop() {
	for _, s := range c.window {
		s.AbortAction()
	}
	wasRunning := c.state == Playing || c.state == Paused || c.state == Starting
	c.reset(false)
	c.success = nil
	if wasRunning {
		c.rec.RunEnded(false, "stopped", nil)
		log.Printf("[PLAYBACK] stopped")
	}
	c.publish()
}

// Reset rewinds the plan without aborting actions. Calling it twice is the same as once.
func (c *Controller) Reset() {
	c.reset(false)
	c.success = nil
	c.publish()
}

func (c *Controller) reset(looping bool) {
	c.window = nil
	if !looping {
		c.loopCount = -1
		c.onLoop = nil
		if c.container != nil {
			c.state = Stopped
		} else {
			c.state = NotLoaded
		}
	} else {
		c.state = Starting
	}
	c.stallReason = ""
	c.lastErr = nil
	c.frame = 0
	if c.container != nil {
		c.container.Reset()
	}
	c.explorer.Stop(0)
	if c.eval != nil {
		c.eval.Reset()
	}
	metrics.SetWindowSize(0)
	metrics.SetPlaying(c.state == Playing)
}

// ReplayCompletedSuccessfully reports the outcome of the last run. known is false until a run finished.
func (c *Controller) ReplayCompletedSuccessfully() (ok, known bool) {
	if c.success == nil {
		return false, false
	}
	return *c.success, true
}
// #endregion lifecycle

// #region tick
// Tick evaluates one frame. It never blocks. A panic inside the tick stops playback
// and is returned as a *TickError.
func (c *Controller) Tick(snap world.Snapshot) (err error) {
	if c.state != Starting && c.state != Playing {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			ordinal := 0
			if len(c.window) > 0 {
				ordinal = c.window[0].Ordinal()
			}
			err = &TickError{Ordinal: ordinal, Cause: r}
			log.Printf("[PLAYBACK] %v", err)
			c.Stop()
			c.lastErr = err
			c.publish()
		}
	}()

	if c.state == Starting {
		c.begin()
	}
	c.frame++
	metrics.RecordTick()
	c.eval.BeginFrame(snap)
	if err := c.evaluate(c.now(), snap); err != nil {
		return err
	}

	if len(c.window) == 0 {
		c.finish()
	}
	c.publish()
	return nil
}

func (c *Controller) begin() {
	c.state = Playing
	c.frame = 0
	if s, ok := c.container.Dequeue(); ok {
		c.window = append(c.window, s)
	}
	c.rec.RunStarted(c.container.SessionID, c.container.Source, max(c.loopCount, 0))
	metrics.SetPlaying(true)
	log.Printf("[PLAYBACK] playing %d segments (session %s)", c.container.Len(), c.container.SessionID)
}

func (c *Controller) evaluate(now time.Time, snap world.Snapshot) error {
	var first *plan.Segment
	if len(c.window) > 0 {
		first = c.window[0]
		if err := c.processAction(now, first, snap); err != nil {
			return err
		}
		c.container.ProcessValidations(c.frame, first.Ordinal(), snap)
	}

	matchedThisTick := false
	for i := 0; i < len(c.window); {
		seg := c.window[i]
		seg.ProcessValidations(c.frame, snap)

		matched := seg.Matched() || !seg.HasCriteria() ||
			c.eval.Matched(i == 0, seg.Ordinal(), seg.ActionCompleted(), seg.ValidationsCompleted(), seg.EndCriteria)

		if !matched {
			if i == 0 && seg.ActionCompleted() && c.stall.due(now) {
				c.stalled(seg, fmt.Sprintf("(%d) - Bot Segment - Unmatched Criteria for \r\n%s", seg.Ordinal(), c.eval.UnmatchedCriteria()))
				c.explore(seg)
			}
			i++
			continue
		}

		if i == 0 {
			if !seg.Matched() {
				// read before marking: an action with no end of its own completes on match
				actionDone := seg.ActionCompleted()
				seg.MarkMatched()
				log.Printf("[PLAYBACK] (%d) - Bot Segment - Criteria Matched - %s - %s", seg.Ordinal(), seg.Name, seg.Description)
				if seg.ActionStarted() && !actionDone {
					seg.StopAction()
				}
				if c.explorer.Exploring() {
					c.explorer.Stop(seg.Ordinal())
				}
				c.progress(now)
				matchedThisTick = true
				metrics.RecordSegmentMatched()
				c.rec.SegmentMatched(seg.Ordinal(), seg.Name)
			}
			if seg.ActionStarted() && !seg.ActionCompleted() && c.stall.due(now) {
				log.Printf("[PLAYBACK] (%d) - Bot Segment - Waiting for actions to complete", seg.Ordinal())
			}
		}

		if seg.Matched() && seg.ActionStarted() && seg.ActionCompleted() {
			c.progress(now)
			log.Printf("[PLAYBACK] (%d) - Bot Segment - DONE - Criteria Matched && Action Completed - %s - %s", seg.Ordinal(), seg.Name, seg.Description)
			c.complete(seg)
			c.window = append(c.window[:i], c.window[i+1:]...)
			continue
		}
		i++
	}

	if matchedThisTick {
		c.eval.PersistPriorFrameStatus()
	}

	c.fillWindow(now)

	if len(c.window) > 0 && c.window[0] != first {
		if err := c.processAction(now, c.window[0], snap); err != nil {
			return err
		}
	}
	return nil
}

// fillWindow pulls the next segment when the window is empty, or when the last
// segment has a transient match and there is room.
func (c *Controller) fillWindow(now time.Time) {
	if n := len(c.window); n > 0 {
		last := c.window[n-1]
		if !last.TransientMatched() || n >= maxWindow {
			return
		}
		if next, ok := c.container.Dequeue(); ok {
			c.progress(now)
			log.Printf("[PLAYBACK] (%d) - Bot Segment - Added %sTransient BotSegment for Evaluation after Transient BotSegment - %s - %s",
				next.Ordinal(), transientLabel(next), next.Name, next.Description)
			c.window = append(c.window, next)
		}
	} else if next, ok := c.container.Dequeue(); ok {
		c.progress(now)
		log.Printf("[PLAYBACK] (%d) - Bot Segment - Added %sTransient BotSegment for Evaluation - %s - %s",
			next.Ordinal(), transientLabel(next), next.Name, next.Description)
		c.window = append(c.window, next)
	}
	metrics.SetWindowSize(len(c.window))
}

func transientLabel(s *plan.Segment) string {
	if s.HasTransientCriteria() {
		return ""
	}
	return "Non-"
}

func (c *Controller) complete(seg *plan.Segment) {
	seg.StopValidations()
	if seg.BotAction != nil && seg.BotAction.Data != nil {
		c.explorer.Remember(seg.BotAction.Data)
	}
	metrics.RecordSegmentCompleted()
	c.rec.SegmentCompleted(seg.Ordinal(), seg.Name)
}

// finish ends one pass over the plan: loop again or stop with success.
func (c *Controller) finish() {
	c.results = c.container.StopValidations()
	for _, r := range c.results {
		log.Printf("[PLAYBACK] validation %q: %s", r.Name, r.Status)
	}
	if c.loopCount > -1 {
		c.rec.RunEnded(true, fmt.Sprintf("loop %d complete", c.loopCount), c.results)
		c.reset(true)
		c.loopCount++
		metrics.RecordLoop()
		log.Printf("[PLAYBACK] starting loop %d", c.loopCount)
		if c.onLoop != nil {
			c.onLoop(c.loopCount)
		}
		return
	}
	c.rec.RunEnded(true, "completed", c.results)
	c.reset(false)
	ok := true
	c.success = &ok
	log.Printf("[PLAYBACK] replay completed successfully")
}
// #endregion tick

// #region actions
func (c *Controller) processAction(now time.Time, seg *plan.Segment, snap world.Snapshot) error {
	did, err := seg.ProcessAction(snap)
	if c.explorer.Exploring() {
		explored, exErr := c.explorer.Perform(seg.Ordinal(), snap)
		did = did || explored
		if err == nil {
			err = exErr
		}
	}
	if err == nil {
		if did {
			c.progress(now)
		}
		return nil
	}

	c.lastErr = err
	if errors.Is(err, action.ErrFatal) && c.opts.HaltOnFatal {
		log.Printf("[PLAYBACK] (%d) - Bot Segment - Fatal error processing BotAction: %v", seg.Ordinal(), err)
		c.Stop()
		c.lastErr = err
		c.publish()
		return fmt.Errorf("segment %d action: %w", seg.Ordinal(), err)
	}
	if c.stall.due(now) {
		c.stalled(seg, fmt.Sprintf("(%d) - Bot Segment - Error processing BotAction\r\n%v", seg.Ordinal(), err))
	}
	return nil
}

// explore falls back to remembered actions for a segment stuck after its own action finished.
func (c *Controller) explore(seg *plan.Segment) {
	if !c.opts.Explore || c.explorer.Exploring() {
		return
	}
	if err := c.explorer.Start(seg.Ordinal()); err != nil {
		c.stalled(seg, fmt.Sprintf("(%d) - Bot Segment - %v", seg.Ordinal(), err))
	}
}
// #endregion actions

// #region diagnostics
func (c *Controller) progress(now time.Time) {
	c.stall.touch(now)
	c.stallReason = ""
}

func (c *Controller) stalled(seg *plan.Segment, msg string) {
	c.stallReason = msg
	log.Printf("[PLAYBACK] %s", msg)
	metrics.RecordStall()
	c.rec.Stalled(seg.Ordinal(), msg)
	if c.opts.PauseOnStall {
		c.Pause()
	}
}

// Status returns the last published snapshot.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.status
	s.Window = append([]int(nil), s.Window...)
	s.Validations = append([]validation.Result(nil), s.Validations...)
	return s
}

func (c *Controller) publish() {
	s := Status{
		State:       c.state,
		Frame:       c.frame,
		LoopCount:   max(c.loopCount, 0),
		Window:      make([]int, 0, len(c.window)),
		Exploring:   c.explorer.Exploring(),
		StallReason: c.stallReason,
		Success:     c.success,
		Validations: c.results,
		UpdatedAt:   c.now(),
	}
	if c.container != nil {
		s.SessionID = c.container.SessionID
		s.Plan = c.container.Source
	}
	for _, seg := range c.window {
		s.Window = append(s.Window, seg.Ordinal())
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}

	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
	if c.opts.Publish != nil {
		c.opts.Publish(s)
	}
}
// #endregion diagnostics
