package exploration

import (
	"errors"
	"log"
	"time"

	bt "github.com/joeycumines/go-behaviortree"

	"github.com/danielpatrickdp/segment-replay/internal/action"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

const (
	maxRemembered      = 3
	defaultStepTimeout = 10 * time.Second
)

// ErrNoAction is reported when exploration starts with nothing remembered. Callers treat it as stuck, not fatal.
var ErrNoAction = errors.New("no available exploratory action")

// #region driver
// Driver retries previously successful actions while the plan is stuck.
// Rounds follow the pattern [newest], [newest, older], [newest, older, oldest] and cycle.
type Driver struct {
	// StepTimeout bounds how long one action with no self-determined end is run.
	StepTimeout time.Duration
	Now         func() time.Time

	remembered []action.Action
	exploring  bool
	round      int
	tree       bt.Node
	steps      []*step

	// per tick inputs for the leaves
	ordinal int
	snap    world.Snapshot
	acted   bool
	lastErr error
}

func New() *Driver {
	return &Driver{StepTimeout: defaultStepTimeout}
}

func (d *Driver) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// Remember records a successful action as the newest candidate. At most three are kept.
func (d *Driver) Remember(a action.Action) {
	if a == nil {
		return
	}
	list := []action.Action{a}
	for _, r := range d.remembered {
		if r != a && len(list) < maxRemembered {
			list = append(list, r)
		}
	}
	d.remembered = list
}

func (d *Driver) Remembered() int { return len(d.remembered) }
func (d *Driver) Exploring() bool { return d.exploring }

// Start begins exploring on behalf of the stuck segment.
func (d *Driver) Start(ordinal int) error {
	if len(d.remembered) == 0 {
		return ErrNoAction
	}
	if d.exploring {
		return nil
	}
	log.Printf("[EXPLORE] (%d) - starting exploration with %d remembered actions", ordinal, len(d.remembered))
	d.exploring = true
	d.round = 0
	d.buildRound()
	return nil
}

// Perform runs one tick of the current round.
func (d *Driver) Perform(ordinal int, snap world.Snapshot) (bool, error) {
	if !d.exploring {
		return false, nil
	}
	if d.tree == nil {
		return false, ErrNoAction
	}
	d.ordinal, d.snap, d.acted, d.lastErr = ordinal, snap, false, nil
	status, err := d.tree.Tick()
	if err != nil {
		return d.acted, err
	}
	if status != bt.Running {
		d.round++
		d.buildRound()
	}
	return d.acted, d.lastErr
}

// Stop aborts whatever is running and leaves exploration.
func (d *Driver) Stop(ordinal int) {
	if !d.exploring {
		return
	}
	for _, s := range d.steps {
		if s.started && !s.finished {
			s.a.Abort(ordinal)
		}
	}
	d.exploring = false
	d.tree = nil
	d.steps = nil
	log.Printf("[EXPLORE] (%d) - exploration stopped", ordinal)
}

// Reset forgets every remembered action.
func (d *Driver) Reset() {
	d.Stop(0)
	d.remembered = nil
}
// #endregion driver

// #region rounds
// roundSize is how many remembered actions the current round replays.
func (d *Driver) roundSize() int {
	return min(d.round%maxRemembered+1, len(d.remembered))
}

func (d *Driver) buildRound() {
	n := d.roundSize()
	d.steps = make([]*step, n)
	children := make([]bt.Node, n)
	for i := range n {
		s := &step{d: d, a: d.remembered[i]}
		d.steps[i] = s
		children[i] = bt.New(s.tick)
	}
	d.tree = bt.New(bt.Memorize(bt.Sequence), children...)
}

// step replays one remembered action as a behaviour tree leaf.
type step struct {
	d        *Driver
	a        action.Action
	started  bool
	finished bool
	startAt  time.Time
}

func (s *step) tick([]bt.Node) (bt.Status, error) {
	d := s.d
	if !s.started {
		s.a.ReplayReset()
		s.a.Start(d.ordinal, d.snap)
		s.started = true
		s.startAt = d.now()
	}
	did, err := s.a.Process(d.ordinal, d.snap)
	d.acted = d.acted || did
	if err != nil {
		if errors.Is(err, action.ErrFatal) {
			s.finished = true
			log.Printf("[EXPLORE] (%d) - exploratory action failed: %v", d.ordinal, err)
			return bt.Failure, nil
		}
		d.lastErr = err
	}
	done, ok := s.a.IsCompleted()
	if ok && done {
		s.finished = true
		return bt.Success, nil
	}
	if d.StepTimeout > 0 && d.now().Sub(s.startAt) >= d.StepTimeout {
		s.a.Stop(d.ordinal)
		s.finished = true
		return bt.Success, nil
	}
	return bt.Running, nil
}
// #endregion rounds
