package replay

import (
	"math/rand/v2"
	"time"

	"github.com/danielpatrickdp/segment-replay/internal/action"
	"github.com/danielpatrickdp/segment-replay/internal/cvservice"
	"github.com/danielpatrickdp/segment-replay/internal/evaluator"
	"github.com/danielpatrickdp/segment-replay/internal/keyframe"
	"github.com/danielpatrickdp/segment-replay/internal/plan"
	"github.com/danielpatrickdp/segment-replay/internal/playback"
	"github.com/danielpatrickdp/segment-replay/internal/validation"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// #region types
// Frame is one recorded tick of the application.
type Frame struct {
	Objects          []world.ObjectStatus
	Screenshot       *world.Screenshot // nil when no capture was available
	PixelHashChanged bool
	// Advance moves the clock before this frame. Zero uses Config.FrameInterval.
	Advance time.Duration
}

// CVClients connects the harness to a CV service. Nil clients leave those criteria unmatched.
type CVClients struct {
	Text    cvservice.TextDiscoverer
	Image   cvservice.ImageMatcher
	Object  cvservice.ObjectQuerier
	Refs    *evaluator.ImageSource
	Timeout time.Duration
}

// Config controls one headless run.
type Config struct {
	HaltOnFatal   bool
	PauseOnStall  bool
	Explore       bool
	Loop          bool
	LogInterval   time.Duration
	FrameInterval time.Duration
	Start         time.Time
	Seed          uint64
	ScreenSize    world.Size

	CV CVClients
	// Recorder also receives every playback event, for example a history store.
	Recorder playback.Recorder
}

// DefaultConfig returns a 10 fps clock starting at a fixed instant.
func DefaultConfig() Config {
	return Config{
		FrameInterval: 100 * time.Millisecond,
		Start:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Seed:          1,
		ScreenSize:    world.Size{Width: 1920, Height: 1080},
	}
}

// TickResult captures what happened on one frame.
type TickResult struct {
	Frame       int
	State       playback.State
	Window      []int
	Matched     []int
	Completed   []int
	Inputs      int
	StallReason string
	Err         string
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Frames      int
	Matched     int
	Completed   int
	Stalls      int
	Errors      int
	Inputs      int
	Loops       int
	Finished    bool
	Success     bool
	FinalState  playback.State
	Validations []validation.Result
}
// #endregion types

// #region world
// frameSource serves the current frame to the evaluators and actions.
type frameSource struct {
	current Frame
}

func (s *frameSource) HasPixelHashChanged() bool { return s.current.PixelHashChanged }

func (s *frameSource) Screenshot(int) (world.Screenshot, bool) {
	if s.current.Screenshot == nil {
		return world.Screenshot{}, false
	}
	return *s.current.Screenshot, true
}

func (s *frameSource) snapshot() world.Snapshot {
	snap := make(world.Snapshot, len(s.current.Objects))
	for _, o := range s.current.Objects {
		snap[o.ID] = o
	}
	return snap
}

type countingSink struct{ n int }

func (c *countingSink) SendMouse(world.MouseEvent) { c.n++ }
func (c *countingSink) SendKey(world.KeyEvent)     { c.n++ }

// tickRecorder collects the events of the current tick and forwards them.
type tickRecorder struct {
	next      playback.Recorder
	matched   []int
	completed []int
	stalls    int
}

func (r *tickRecorder) RunStarted(sessionID, plan string, loop int) {
	if r.next != nil {
		r.next.RunStarted(sessionID, plan, loop)
	}
}

func (r *tickRecorder) SegmentMatched(ordinal int, name string) {
	r.matched = append(r.matched, ordinal)
	if r.next != nil {
		r.next.SegmentMatched(ordinal, name)
	}
}

func (r *tickRecorder) SegmentCompleted(ordinal int, name string) {
	r.completed = append(r.completed, ordinal)
	if r.next != nil {
		r.next.SegmentCompleted(ordinal, name)
	}
}

func (r *tickRecorder) Stalled(ordinal int, reason string) {
	r.stalls++
	if r.next != nil {
		r.next.Stalled(ordinal, reason)
	}
}

func (r *tickRecorder) RunEnded(success bool, reason string, results []validation.Result) {
	if r.next != nil {
		r.next.RunEnded(success, reason, results)
	}
}
// #endregion world

// #region replay
// Replay plays p against the recorded frames, one tick per frame, entirely in-memory.
// It stops early once a non-looping run ends. The final status is returned with the results.
func Replay(p *plan.Container, frames []Frame, cfg Config) ([]TickResult, playback.Status) {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultConfig().FrameInterval
	}
	now := cfg.Start
	if now.IsZero() {
		now = DefaultConfig().Start
	}
	clock := func() time.Time { return now }

	src := &frameSource{}
	sink := &countingSink{}
	rec := &tickRecorder{next: cfg.Recorder}

	kopts := keyframe.Options{Pixels: src}
	if cfg.CV.Text != nil {
		kopts.Text = evaluator.NewCVTextEvaluator(cfg.CV.Text, src, cfg.CV.Timeout)
	}
	refs := cfg.CV.Refs
	if refs == nil {
		refs, _ = evaluator.NewImageSource("", 0)
	}
	if cfg.CV.Image != nil {
		kopts.Image = evaluator.NewCVImageEvaluator(cfg.CV.Image, src, refs, cfg.CV.Timeout)
	}
	if cfg.CV.Object != nil {
		kopts.Object = evaluator.NewCVObjectEvaluator(cfg.CV.Object, src, refs, cfg.CV.Timeout)
	}

	p.Bind(&action.Env{
		Input:      sink,
		Screen:     src,
		ScreenSize: cfg.ScreenSize,
		Texts:      cfg.CV.Text,
		Images:     cfg.CV.Image,
		Objects:    cfg.CV.Object,
		Refs:       refs,
		CVTimeout:  cfg.CV.Timeout,
		Now:        clock,
		Rand:       rand.New(rand.NewPCG(cfg.Seed, cfg.Seed)),
	})

	ctrl := playback.New(keyframe.New(kopts), playback.Options{
		HaltOnFatal:  cfg.HaltOnFatal,
		PauseOnStall: cfg.PauseOnStall,
		Explore:      cfg.Explore,
		LogInterval:  cfg.LogInterval,
		Now:          clock,
		Recorder:     rec,
	})
	ctrl.SetPlan(p)
	if cfg.Loop {
		ctrl.Loop(nil)
	} else {
		ctrl.Play()
	}

	results := make([]TickResult, 0, len(frames))
	for i, f := range frames {
		if i > 0 {
			if f.Advance > 0 {
				now = now.Add(f.Advance)
			} else {
				now = now.Add(cfg.FrameInterval)
			}
		}
		src.current = f
		rec.matched, rec.completed, rec.stalls = nil, nil, 0
		inputsBefore := sink.n

		err := ctrl.Tick(src.snapshot())
		st := ctrl.Status()
		r := TickResult{
			Frame:     i + 1,
			State:     st.State,
			Window:    st.Window,
			Matched:   rec.matched,
			Completed: rec.completed,
			Inputs:    sink.n - inputsBefore,
		}
		if rec.stalls > 0 {
			r.StallReason = st.StallReason
		}
		if err != nil {
			r.Err = err.Error()
		}
		results = append(results, r)

		if ctrl.State() == playback.Stopped {
			break
		}
	}
	return results, ctrl.Status()
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []TickResult, final playback.Status) Summary {
	s := Summary{
		Frames:      len(results),
		Loops:       final.LoopCount,
		FinalState:  final.State,
		Validations: final.Validations,
	}
	if final.Success != nil {
		s.Finished = true
		s.Success = *final.Success
	}
	for _, r := range results {
		s.Matched += len(r.Matched)
		s.Completed += len(r.Completed)
		s.Inputs += r.Inputs
		if r.StallReason != "" {
			s.Stalls++
		}
		if r.Err != "" {
			s.Errors++
		}
	}
	return s
}
// #endregion replay
