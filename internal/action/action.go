package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/danielpatrickdp/segment-replay/internal/cvservice"
	"github.com/danielpatrickdp/segment-replay/internal/evaluator"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// ErrFatal marks an action failure the segment cannot recover from.
var ErrFatal = errors.New("fatal action error")

// #region kind
// Kind tags the payload of a BotAction.
type Kind string

const (
	KindInputPlayback Kind = "InputPlayback"
	KindRandomPixel   Kind = "RandomMouse_ClickPixel"
	KindRandomObject  Kind = "RandomMouse_ClickObject"
	KindCVTextMouse   Kind = "Mouse_CVText"
	KindCVImageMouse  Kind = "Mouse_CVImage"
	KindCVObjectMouse Kind = "Mouse_ObjectDetection"
	KindBehaviour     Kind = "Behaviour"
	KindMonkey        Kind = "MonkeyBot"
	KindRestartGame   Kind = "RestartGame"
	KindQuitGame      Kind = "QuitGame"
)
// #endregion kind

// #region interface
// Action is the lifecycle every bot action variant implements. The set of variants is closed.
//
// IsCompleted returns ok=false for actions with no self-determined end; those count as
// complete once their segment has matched.
type Action interface {
	Start(ordinal int, snap world.Snapshot)
	Process(ordinal int, snap world.Snapshot) (didAct bool, err error)
	Stop(ordinal int)
	Abort(ordinal int)
	Pause(ordinal int)
	Unpause(ordinal int)
	IsCompleted() (done, ok bool)
	ReplayReset()
	APIVersion() int

	bind(env *Env)
}
// #endregion interface

// #region env
// Env is everything an action touches outside itself. It is bound once after a plan loads.
type Env struct {
	Input      world.InputSink
	Screen     world.Screenshotter
	ScreenSize world.Size

	Texts   cvservice.TextDiscoverer
	Images  cvservice.ImageMatcher
	Objects cvservice.ObjectQuerier
	Refs    *evaluator.ImageSource

	Behaviours *Registry
	CVTimeout  time.Duration

	// Host restarts or quits the application under test. PlanPath is checkpointed into
	// CheckpointDir before a restart so the plan runs again once the host comes back.
	Host          Host
	CheckpointDir string
	PlanPath      string

	Now  func() time.Time
	Rand *rand.Rand
}

// Host is the application lifecycle a plan can drive.
type Host interface {
	Restart() error
	Quit() error
}

func (e *Env) now() time.Time {
	if e == nil || e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Env) intN(n int) int {
	if n <= 0 {
		return 0
	}
	if e == nil || e.Rand == nil {
		return rand.IntN(n)
	}
	return e.Rand.IntN(n)
}

func (e *Env) sendMouse(ev world.MouseEvent) {
	if e != nil && e.Input != nil {
		e.Input.SendMouse(ev)
	}
}

func (e *Env) sendKey(ev world.KeyEvent) {
	if e != nil && e.Input != nil {
		e.Input.SendKey(ev)
	}
}

func (e *Env) cvTimeout() time.Duration {
	if e == nil || e.CVTimeout <= 0 {
		return cvservice.DefaultTimeout
	}
	return e.CVTimeout
}
// #endregion env

// #region pause
// pauseClock remembers when an action was paused so its deadlines can be pushed past the pause.
type pauseClock struct {
	pausedAt time.Time
}

func (p *pauseClock) pause(now time.Time) {
	if p.pausedAt.IsZero() {
		p.pausedAt = now
	}
}

// resume ends the pause and returns how long it lasted.
func (p *pauseClock) resume(now time.Time) time.Duration {
	if p.pausedAt.IsZero() {
		return 0
	}
	d := now.Sub(p.pausedAt)
	p.pausedAt = time.Time{}
	return d
}

func (p *pauseClock) paused() bool { return !p.pausedAt.IsZero() }
func (p *pauseClock) reset()       { p.pausedAt = time.Time{} }

// shift moves a deadline forward. A zero deadline stays zero.
func shift(t time.Time, d time.Duration) time.Time {
	if t.IsZero() {
		return t
	}
	return t.Add(d)
}
// #endregion pause

// #region bot-action
// BotAction is the serialized envelope of one action.
type BotAction struct {
	Type       Kind
	APIVersion int
	Data       Action
}

// Bind attaches the runtime environment to the action.
func (a *BotAction) Bind(env *Env) {
	if a != nil && a.Data != nil {
		a.Data.bind(env)
	}
}

// EffectiveAPIVersion is the larger of the envelope and payload versions.
func (a *BotAction) EffectiveAPIVersion() int {
	if a == nil {
		return 0
	}
	v := a.APIVersion
	if a.Data != nil {
		v = max(v, a.Data.APIVersion())
	}
	return v
}

type envelope struct {
	Type       Kind            `json:"type"`
	APIVersion int             `json:"apiVersion"`
	Data       json.RawMessage `json:"data"`
}

func (a BotAction) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(a.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s action: %w", a.Type, err)
	}
	return json.Marshal(envelope{Type: a.Type, APIVersion: a.APIVersion, Data: data})
}

func (a *BotAction) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("decode bot action: %w", err)
	}
	data, err := newData(env.Type)
	if err != nil {
		return err
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, data); err != nil {
			return fmt.Errorf("decode %s action data: %w", env.Type, err)
		}
	}
	a.Type = env.Type
	a.APIVersion = env.APIVersion
	a.Data = data
	return nil
}

func newData(k Kind) (Action, error) {
	switch k {
	case KindInputPlayback:
		return &InputPlayback{}, nil
	case KindRandomPixel:
		return &RandomPixel{}, nil
	case KindRandomObject:
		return &RandomObject{}, nil
	case KindCVTextMouse:
		return &CVTextMouse{}, nil
	case KindCVImageMouse:
		return &CVImageMouse{}, nil
	case KindCVObjectMouse:
		return &CVObjectMouse{}, nil
	case KindBehaviour:
		return &Behaviour{}, nil
	case KindMonkey:
		return &Monkey{ActionInterval: defaultMonkeyInterval}, nil
	case KindRestartGame:
		return &RestartGame{}, nil
	case KindQuitGame:
		return &QuitGame{}, nil
	}
	return nil, fmt.Errorf("unknown bot action type %q", k)
}
// #endregion bot-action
