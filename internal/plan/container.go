package plan

import (
	"github.com/google/uuid"

	"github.com/danielpatrickdp/segment-replay/internal/action"
	"github.com/danielpatrickdp/segment-replay/internal/criteria"
	"github.com/danielpatrickdp/segment-replay/internal/validation"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// #region container
// Container holds a loaded plan and the dequeue cursor over it.
// The cursor only moves forward until Reset.
type Container struct {
	Name        string
	Source      string
	SessionID   string
	Validations validation.Set

	segments []*Segment
	cursor   int
}

// NewContainer numbers the segments from 1 in order, and the criteria of each segment. The session id falls back to the
// first segment carrying one, then to a fresh uuid.
func NewContainer(sessionID string, segments []*Segment, sequence validation.Set) *Container {
	for i, s := range segments {
		s.ordinal = i + 1
		criteria.Number(s.EndCriteria)
		if sessionID == "" && s.SessionID != "" {
			sessionID = s.SessionID
		}
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	return &Container{SessionID: sessionID, Validations: sequence, segments: segments}
}

func (c *Container) Len() int             { return len(c.segments) }
func (c *Container) Remaining() int       { return len(c.segments) - c.cursor }
func (c *Container) Segments() []*Segment { return c.segments }

// Dequeue returns the next segment and advances the cursor.
func (c *Container) Dequeue() (*Segment, bool) {
	if c.cursor >= len(c.segments) {
		return nil, false
	}
	s := c.segments[c.cursor]
	c.cursor++
	return s, true
}

// Peek returns the next segment without moving the cursor.
func (c *Container) Peek() (*Segment, bool) {
	if c.cursor >= len(c.segments) {
		return nil, false
	}
	return c.segments[c.cursor], true
}

// Reset rewinds the cursor and replay-resets every segment and validation.
func (c *Container) Reset() {
	c.cursor = 0
	for _, s := range c.segments {
		s.ReplayReset()
	}
	c.Validations.ReplayReset()
}

// Bind attaches the action environment to every segment action.
func (c *Container) Bind(env *action.Env) {
	for _, s := range c.segments {
		s.BotAction.Bind(env)
	}
}

// EffectiveAPIVersion is the highest version across the plan.
func (c *Container) EffectiveAPIVersion() int {
	v := c.Validations.APIVersion()
	for _, s := range c.segments {
		v = max(v, s.EffectiveAPIVersion())
	}
	return v
}
// #endregion container

// #region sequence-validations
// ProcessValidations evaluates the plan level validations for one frame.
func (c *Container) ProcessValidations(frame, ordinal int, snap world.Snapshot) {
	if len(c.Validations) == 0 {
		return
	}
	c.Validations.Process(validation.NewEnv(frame, ordinal, snap))
}

// StopValidations finalizes every validation in the plan and returns the plan level results.
func (c *Container) StopValidations() []validation.Result {
	for _, s := range c.segments {
		s.StopValidations()
	}
	c.Validations.Stop()
	return c.Validations.Results()
}

// ValidationResults lists plan level results followed by every segment's results.
func (c *Container) ValidationResults() []validation.Result {
	out := c.Validations.Results()
	for _, s := range c.segments {
		out = append(out, s.Validations.Results()...)
	}
	return out
}
// #endregion sequence-validations
