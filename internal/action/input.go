package action

import (
	"log"
	"sort"
	"strings"
	"time"

	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// #region input-data
// KeyInput is one recorded key press. Times are seconds on the recording clock.
// A nil StartTime means the key was already down; a nil EndTime means it is still held.
type KeyInput struct {
	APIVersion int      `json:"apiVersion"`
	Binding    string   `json:"binding"`
	Action     string   `json:"action,omitempty"`
	StartTime  *float64 `json:"startTime"`
	EndTime    *float64 `json:"endTime"`

	downSent bool
	upSent   bool
}

// Key is the control name after the last '/' of the binding, e.g. "<Keyboard>/space" -> "space".
func (k *KeyInput) Key() string {
	return k.Binding[strings.LastIndex(k.Binding, "/")+1:]
}

func (k *KeyInput) done() bool {
	return (k.downSent || k.StartTime == nil) && (k.EndTime == nil || k.upSent)
}

// MouseInput is one recorded mouse state.
type MouseInput struct {
	APIVersion int         `json:"apiVersion"`
	StartTime  float64     `json:"startTime"`
	ScreenSize world.Size  `json:"screenSize"`
	Position   world.Point `json:"position"`
	Left       bool        `json:"leftButton"`
	Middle     bool        `json:"middleButton"`
	Right      bool        `json:"rightButton"`
	Forward    bool        `json:"forwardButton"`
	Back       bool        `json:"backButton"`
	Scroll     world.Point `json:"scroll"`

	sent bool
}

// InputData is the recorded input stream of one segment.
type InputData struct {
	Keyboard []*KeyInput   `json:"keyboard,omitempty"`
	Mouse    []*MouseInput `json:"mouse,omitempty"`
}
// #endregion input-data

// #region input-playback
// InputPlayback replays recorded input relative to the recorded time of the prior key frame.
// Paused time is excluded. It completes when every event has fired.
type InputPlayback struct {
	Version   int       `json:"apiVersion"`
	StartTime float64   `json:"startTime"`
	InputData InputData `json:"inputData"`

	env       *Env
	started   bool
	stopped   bool
	startedAt time.Time
	pausedAt  time.Time
	paused    time.Duration
}

func (a *InputPlayback) bind(env *Env) { a.env = env }

func (a *InputPlayback) APIVersion() int {
	v := a.Version
	for _, k := range a.InputData.Keyboard {
		v = max(v, k.APIVersion)
	}
	for _, m := range a.InputData.Mouse {
		v = max(v, m.APIVersion)
	}
	return v
}

func (a *InputPlayback) Start(ordinal int, _ world.Snapshot) {
	if a.stopped || a.started {
		return
	}
	log.Printf("[ACTION] (%d) - Bot Segment - Processing InputPlayback with %d keyboard and %d mouse events",
		ordinal, len(a.InputData.Keyboard), len(a.InputData.Mouse))
	a.started = true
	a.startedAt = a.env.now()
}

// elapsed is the replay clock expressed on the recording clock.
func (a *InputPlayback) elapsed() float64 {
	return a.StartTime + (a.env.now().Sub(a.startedAt) - a.paused).Seconds()
}

type timedInput struct {
	at    float64
	key   *KeyInput
	mouse *MouseInput
}

func (a *InputPlayback) sorted() []timedInput {
	out := make([]timedInput, 0, len(a.InputData.Keyboard)+len(a.InputData.Mouse))
	for _, k := range a.InputData.Keyboard {
		at := a.StartTime
		if k.StartTime != nil {
			at = *k.StartTime
		}
		out = append(out, timedInput{at: at, key: k})
	}
	for _, m := range a.InputData.Mouse {
		out = append(out, timedInput{at: m.StartTime, mouse: m})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at < out[j].at })
	return out
}

func (a *InputPlayback) Process(ordinal int, _ world.Snapshot) (bool, error) {
	if a.stopped || !a.started || !a.pausedAt.IsZero() {
		return false, nil
	}
	now := a.elapsed()
	didAct := false
	seen := make(map[string]bool)

	for _, in := range a.sorted() {
		if k := in.key; k != nil {
			key := k.Key()
			// one state change per key per tick
			if seen[key] {
				continue
			}
			if (k.downSent || k.StartTime == nil) && !k.upSent && k.EndTime != nil && now >= *k.EndTime {
				a.env.sendKey(world.KeyEvent{Ordinal: ordinal, Key: key, Down: false})
				k.upSent = true
				seen[key] = true
				didAct = true
				continue
			}
			if !k.downSent && k.StartTime != nil && now >= *k.StartTime {
				a.env.sendKey(world.KeyEvent{Ordinal: ordinal, Key: key, Down: true})
				k.downSent = true
				seen[key] = true
				didAct = true
			}
			continue
		}
		m := in.mouse
		if !m.sent && now >= m.StartTime {
			a.env.sendMouse(world.MouseEvent{
				Ordinal:  ordinal,
				Position: a.scale(m.Position, m.ScreenSize),
				Left:     m.Left,
				Middle:   m.Middle,
				Right:    m.Right,
				Forward:  m.Forward,
				Back:     m.Back,
				Scroll:   m.Scroll,
			})
			m.sent = true
			didAct = true
		}
	}
	return didAct, nil
}

// scale maps a recorded position onto the current screen size.
func (a *InputPlayback) scale(p world.Point, recorded world.Size) world.Point {
	if a.env == nil || recorded.Width <= 0 || recorded.Height <= 0 || a.env.ScreenSize.Width <= 0 || a.env.ScreenSize.Height <= 0 {
		return p
	}
	return world.Point{
		X: p.X * a.env.ScreenSize.Width / recorded.Width,
		Y: p.Y * a.env.ScreenSize.Height / recorded.Height,
	}
}

// Stop is a no-op: recorded input finishes even when the criteria match first.
func (a *InputPlayback) Stop(int) {}

func (a *InputPlayback) Abort(int) { a.stopped = true }

func (a *InputPlayback) Pause(int) {
	if a.pausedAt.IsZero() {
		a.pausedAt = a.env.now()
	}
}

func (a *InputPlayback) Unpause(int) {
	if !a.pausedAt.IsZero() {
		a.paused += a.env.now().Sub(a.pausedAt)
		a.pausedAt = time.Time{}
	}
}

func (a *InputPlayback) IsCompleted() (bool, bool) {
	if a.stopped {
		return true, true
	}
	for _, k := range a.InputData.Keyboard {
		if !k.done() {
			return false, true
		}
	}
	for _, m := range a.InputData.Mouse {
		if !m.sent {
			return false, true
		}
	}
	return true, true
}

func (a *InputPlayback) ReplayReset() {
	a.started = false
	a.stopped = false
	a.startedAt = time.Time{}
	a.pausedAt = time.Time{}
	a.paused = 0
	for _, k := range a.InputData.Keyboard {
		k.downSent, k.upSent = false, false
	}
	for _, m := range a.InputData.Mouse {
		m.sent = false
	}
}
// #endregion input-playback
