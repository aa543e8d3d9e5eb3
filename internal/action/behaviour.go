package action

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// #region registry
// Hosted is a behaviour attached by a Behaviour action. Step runs once per tick and reports
// whether the behaviour has finished on its own.
type Hosted interface {
	Step(ordinal int, snap world.Snapshot, input world.InputSink) (finished bool, err error)
	Close()
}

// Factory builds a fresh behaviour instance.
type Factory func() Hosted

// Registry maps behaviour names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Lookup(name string) (Factory, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// IdleBehaviour does nothing and never finishes, so its segment ends only through its criteria
// or MaxRuntimeSeconds.
const IdleBehaviour = "segmentreplay.Idle"

type idle struct{}

func (idle) Step(int, world.Snapshot, world.InputSink) (bool, error) { return false, nil }
func (idle) Close()                                                  {}

// RegisterBuiltins adds the behaviours every host provides. Hosts that embed this package
// register their own with Register before binding a plan.
func RegisterBuiltins(r *Registry) {
	r.Register(IdleBehaviour, func() Hosted { return idle{} })
}

// Names lists every registered behaviour, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
// #endregion registry

// #region behaviour
// Behaviour resolves a named behaviour in the background, attaches it and steps it each tick.
// An unknown name or exceeding MaxRuntimeSeconds is fatal to the segment. Paused time does not
// count toward MaxRuntimeSeconds.
type Behaviour struct {
	Version           int     `json:"apiVersion"`
	BehaviourFullName string  `json:"behaviourFullName"`
	MaxRuntimeSeconds float64 `json:"maxRuntimeSeconds,omitempty"`

	env        *Env
	resolved   chan resolution
	instance   Hosted
	attachedAt time.Time
	clock      pauseClock
	stopped    bool
}

type resolution struct {
	factory Factory
	ok      bool
}

func (a *Behaviour) bind(env *Env)   { a.env = env }
func (a *Behaviour) APIVersion() int { return a.Version }

func (a *Behaviour) Start(ordinal int, _ world.Snapshot) {
	if a.resolved != nil || a.instance != nil || a.stopped {
		return
	}
	ch := make(chan resolution, 1)
	a.resolved = ch
	var registry *Registry
	if a.env != nil {
		registry = a.env.Behaviours
	}
	name := a.BehaviourFullName
	go func() {
		f, ok := registry.Lookup(name)
		ch <- resolution{factory: f, ok: ok}
	}()
	log.Printf("[ACTION] (%d) - Bot Segment - Resolving behaviour %s", ordinal, name)
}

func (a *Behaviour) Process(ordinal int, snap world.Snapshot) (bool, error) {
	if a.stopped || a.clock.paused() {
		return false, nil
	}
	if a.instance == nil {
		if a.resolved == nil {
			return false, nil
		}
		select {
		case r := <-a.resolved:
			a.resolved = nil
			if !r.ok || r.factory == nil {
				a.stopped = true
				return false, fmt.Errorf("behaviour %s not registered: %w", a.BehaviourFullName, ErrFatal)
			}
			a.instance = r.factory()
			a.attachedAt = a.env.now()
			log.Printf("[ACTION] (%d) - Bot Segment - Attached behaviour %s", ordinal, a.BehaviourFullName)
		default:
			return false, nil
		}
	}

	if a.MaxRuntimeSeconds > 0 && a.env.now().Sub(a.attachedAt).Seconds() > a.MaxRuntimeSeconds {
		a.Stop(ordinal)
		return false, fmt.Errorf("behaviour %s exceeded max runtime of %.1fs: %w", a.BehaviourFullName, a.MaxRuntimeSeconds, ErrFatal)
	}

	var input world.InputSink
	if a.env != nil {
		input = a.env.Input
	}
	finished, err := a.instance.Step(ordinal, snap, input)
	if finished {
		a.Stop(ordinal)
	}
	return true, err
}

func (a *Behaviour) Stop(int) {
	a.stopped = true
	if a.instance != nil {
		a.instance.Close()
		a.instance = nil
	}
}

func (a *Behaviour) Abort(ordinal int) { a.Stop(ordinal) }
func (a *Behaviour) Pause(int)         { a.clock.pause(a.env.now()) }

func (a *Behaviour) Unpause(int) {
	a.attachedAt = shift(a.attachedAt, a.clock.resume(a.env.now()))
}

func (a *Behaviour) IsCompleted() (bool, bool) { return a.stopped, true }

func (a *Behaviour) ReplayReset() {
	if a.instance != nil {
		a.instance.Close()
	}
	a.instance = nil
	a.resolved = nil
	a.stopped = false
	a.attachedAt = time.Time{}
	a.clock.reset()
}
// #endregion behaviour
