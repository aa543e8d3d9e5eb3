package action

import (
	"fmt"
	"log"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/danielpatrickdp/segment-replay/internal/world"
)

const (
	maxClickRetries       = 20
	defaultMonkeyInterval = 0.05
)

// #region random-pixel
// RandomPixel clicks a random pixel outside the excluded areas, at most once per TimeBetweenClicks.
// It has no end of its own and runs until stopped.
type RandomPixel struct {
	Version           int          `json:"apiVersion"`
	TimeBetweenClicks float64      `json:"timeBetweenClicks"`
	ScreenSize        world.Size   `json:"screenSize"`
	ExcludedAreas     []world.Rect `json:"excludedAreas"`

	env       *Env
	stopped   bool
	lastClick time.Time
	clock     pauseClock
}

func (a *RandomPixel) bind(env *Env)   { a.env = env }
func (a *RandomPixel) APIVersion() int { return a.Version }

func (a *RandomPixel) Start(int, world.Snapshot) {}

func (a *RandomPixel) Process(ordinal int, _ world.Snapshot) (bool, error) {
	if a.stopped || a.clock.paused() {
		return false, nil
	}
	now := a.env.now()
	if !a.lastClick.IsZero() && now.Sub(a.lastClick).Seconds() < a.TimeBetweenClicks {
		return false, nil
	}
	p, ok := randomPoint(a.env, scaleAreas(a.env, a.ScreenSize, a.ExcludedAreas))
	if !ok {
		// everything we tried was excluded; try again next tick
		return false, nil
	}
	a.lastClick = now
	a.env.sendMouse(world.MouseEvent{
		Ordinal:  ordinal,
		Position: p,
		Left:     a.env.intN(2) == 0,
		Middle:   a.env.intN(2) == 0,
		Right:    a.env.intN(2) == 0,
	})
	return true, nil
}

func (a *RandomPixel) Stop(int)  { a.stopped = true }
func (a *RandomPixel) Abort(int) { a.stopped = true }
func (a *RandomPixel) Pause(int) { a.clock.pause(a.env.now()) }

func (a *RandomPixel) Unpause(int) {
	a.lastClick = shift(a.lastClick, a.clock.resume(a.env.now()))
}

func (a *RandomPixel) IsCompleted() (bool, bool) { return false, false }

func (a *RandomPixel) ReplayReset() {
	a.stopped = false
	a.lastClick = time.Time{}
	a.clock.reset()
}
// #endregion random-pixel

// scaleAreas maps areas recorded at the recorded resolution onto the env screen.
func scaleAreas(env *Env, recorded world.Size, areas []world.Rect) []world.Rect {
	if env == nil || recorded.Width <= 0 || recorded.Height <= 0 || env.ScreenSize.Width <= 0 || env.ScreenSize.Height <= 0 {
		return areas
	}
	sx := float64(env.ScreenSize.Width) / float64(recorded.Width)
	sy := float64(env.ScreenSize.Height) / float64(recorded.Height)
	out := make([]world.Rect, len(areas))
	for i, r := range areas {
		out[i] = r.Scale(sx, sy)
	}
	return out
}

func inAny(p world.Point, areas []world.Rect) bool {
	for _, r := range areas {
		if r.Contains(p) {
			return true
		}
	}
	return false
}

// randomPoint picks a point on the env screen outside every excluded rect.
func randomPoint(env *Env, excluded []world.Rect) (world.Point, bool) {
	var size world.Size
	if env != nil {
		size = env.ScreenSize
	}
	for range maxClickRetries {
		p := world.Point{X: env.intN(size.Width), Y: env.intN(size.Height)}
		if !inAny(p, excluded) {
			return p, true
		}
	}
	return world.Point{}, false
}

// #region random-object
// RandomObject clicks the centre of a random on-screen object, at most once per TimeBetweenClicks.
// Objects under an excluded path prefix or centred in an excluded area are skipped. When
// preconditions are set, at least one of those paths must be on screen. Like RandomPixel it
// runs until stopped.
type RandomObject struct {
	Version                     int          `json:"apiVersion"`
	TimeBetweenClicks           float64      `json:"timeBetweenClicks"`
	AllowDrag                   bool         `json:"allowDrag"`
	ScreenSize                  world.Size   `json:"screenSize"`
	ExcludedAreas               []world.Rect `json:"excludedAreas"`
	ExcludedNormalizedPaths     []string     `json:"excludedNormalizedPaths"`
	PreconditionNormalizedPaths []string     `json:"preconditionNormalizedPaths"`

	env       *Env
	stopped   bool
	lastClick time.Time
	clock     pauseClock
}

func (a *RandomObject) bind(env *Env)   { a.env = env }
func (a *RandomObject) APIVersion() int { return a.Version }

func (a *RandomObject) Start(int, world.Snapshot) {}

func (a *RandomObject) Process(ordinal int, snap world.Snapshot) (bool, error) {
	if a.stopped || a.clock.paused() {
		return false, nil
	}
	now := a.env.now()
	if !a.lastClick.IsZero() && now.Sub(a.lastClick).Seconds() < a.TimeBetweenClicks {
		return false, nil
	}

	candidates := onScreen(snap)
	if !a.preconditionsMet(candidates) {
		return false, fmt.Errorf("RandomObject - missing one or more precondition normalized paths\n%s",
			strings.Join(a.PreconditionNormalizedPaths, "\n"))
	}

	excluded := scaleAreas(a.env, a.ScreenSize, a.ExcludedAreas)
	eligible := candidates[:0]
	for _, obj := range candidates {
		if hasPrefixIn(obj.Key(), a.ExcludedNormalizedPaths) || inAny(obj.ScreenRect.Center(), excluded) {
			continue
		}
		eligible = append(eligible, obj)
	}
	if len(eligible) == 0 {
		return false, nil
	}
	obj := eligible[a.env.intN(len(eligible))]
	a.click(ordinal, obj.ScreenRect.Center(), obj.Key())
	a.lastClick = now
	return true, nil
}

func (a *RandomObject) click(ordinal int, p world.Point, path string) {
	ev := world.MouseEvent{
		Ordinal:  ordinal,
		Position: p,
		Left:     a.env.intN(2) == 0,
		Middle:   a.env.intN(2) == 0,
		Right:    a.env.intN(2) == 0,
		Forward:  a.env.intN(2) == 0,
		Back:     a.env.intN(2) == 0,
	}
	drag := a.AllowDrag && a.env.intN(2) == 0
	log.Printf("[ACTION] (%d) - Bot Segment - RandomObject - click at %s on %s", ordinal, p, path)
	a.env.sendMouse(ev)
	if !drag {
		a.env.sendMouse(world.MouseEvent{Ordinal: ordinal, Position: p})
	}
}

func (a *RandomObject) preconditionsMet(candidates []world.ObjectStatus) bool {
	if len(a.PreconditionNormalizedPaths) == 0 {
		return true
	}
	for _, obj := range candidates {
		if slices.Contains(a.PreconditionNormalizedPaths, obj.Key()) {
			return true
		}
	}
	return false
}

func (a *RandomObject) Stop(int)  { a.stopped = true }
func (a *RandomObject) Abort(int) { a.stopped = true }
func (a *RandomObject) Pause(int) { a.clock.pause(a.env.now()) }

func (a *RandomObject) Unpause(int) {
	a.lastClick = shift(a.lastClick, a.clock.resume(a.env.now()))
}

func (a *RandomObject) IsCompleted() (bool, bool) { return false, false }

func (a *RandomObject) ReplayReset() {
	a.stopped = false
	a.lastClick = time.Time{}
	a.clock.reset()
}

// onScreen lists the objects with screen bounds, ordered by id.
func onScreen(snap world.Snapshot) []world.ObjectStatus {
	out := make([]world.ObjectStatus, 0, len(snap))
	for _, obj := range snap {
		if obj.ScreenRect != nil {
			out = append(out, obj)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func hasPrefixIn(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
// #endregion random-object

// #region monkey
// Monkey sends random clicks and key taps every ActionInterval seconds until stopped.
// A press is released on the following action.
type Monkey struct {
	Version        int      `json:"apiVersion"`
	ActionInterval float64  `json:"actionInterval"`
	Keys           []string `json:"keys,omitempty"`

	env     *Env
	stopped bool
	last    time.Time
	heldKey string
	heldAt  *world.Point
	clock   pauseClock
}

func (a *Monkey) bind(env *Env)   { a.env = env }
func (a *Monkey) APIVersion() int { return a.Version }

func (a *Monkey) Start(int, world.Snapshot) {}

func (a *Monkey) Process(ordinal int, _ world.Snapshot) (bool, error) {
	if a.stopped || a.clock.paused() {
		return false, nil
	}
	now := a.env.now()
	if !a.last.IsZero() && now.Sub(a.last).Seconds() < a.ActionInterval {
		return false, nil
	}
	a.last = now

	if a.release(ordinal) {
		return true, nil
	}
	if len(a.Keys) > 0 && a.env.intN(2) == 0 {
		key := a.Keys[a.env.intN(len(a.Keys))]
		a.env.sendKey(world.KeyEvent{Ordinal: ordinal, Key: key, Down: true})
		a.heldKey = key
		return true, nil
	}
	p, ok := randomPoint(a.env, nil)
	if !ok {
		return false, nil
	}
	a.env.sendMouse(world.MouseEvent{Ordinal: ordinal, Position: p, Left: true})
	a.heldAt = &p
	return true, nil
}

// release lets go of whatever the previous action pressed.
func (a *Monkey) release(ordinal int) bool {
	switch {
	case a.heldKey != "":
		a.env.sendKey(world.KeyEvent{Ordinal: ordinal, Key: a.heldKey, Down: false})
		a.heldKey = ""
		return true
	case a.heldAt != nil:
		a.env.sendMouse(world.MouseEvent{Ordinal: ordinal, Position: *a.heldAt})
		a.heldAt = nil
		return true
	}
	return false
}

func (a *Monkey) Stop(ordinal int) {
	a.release(ordinal)
	a.stopped = true
}

func (a *Monkey) Abort(ordinal int) { a.Stop(ordinal) }
func (a *Monkey) Pause(int)         { a.clock.pause(a.env.now()) }

// Unpause keeps whatever is held pressed for the rest of its interval.
func (a *Monkey) Unpause(int) {
	a.last = shift(a.last, a.clock.resume(a.env.now()))
}

func (a *Monkey) IsCompleted() (bool, bool) { return a.stopped, true }

func (a *Monkey) ReplayReset() {
	a.stopped = false
	a.last = time.Time{}
	a.heldKey = ""
	a.heldAt = nil
	a.clock.reset()
}
// #endregion monkey
