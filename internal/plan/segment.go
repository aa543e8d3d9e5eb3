package plan

import (
	"fmt"

	"github.com/danielpatrickdp/segment-replay/internal/action"
	"github.com/danielpatrickdp/segment-replay/internal/criteria"
	"github.com/danielpatrickdp/segment-replay/internal/validation"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// #region segment
// Segment is one step of a plan: an optional action and the key frame criteria that end it.
// The replay fields are runtime state and are never serialized.
type Segment struct {
	APIVersion  int                   `json:"apiVersion"`
	Name        string                `json:"name,omitempty"`
	Description string                `json:"description,omitempty"`
	SessionID   string                `json:"sessionId,omitempty"`
	EndCriteria []*criteria.Criterion `json:"endCriteria"`
	BotAction   *action.BotAction     `json:"botAction,omitempty"`
	Validations validation.Set        `json:"validations,omitempty"`

	ordinal       int
	matched       bool
	actionStarted bool
}

func (s *Segment) Ordinal() int        { return s.ordinal }
func (s *Segment) Matched() bool       { return s.matched }
func (s *Segment) ActionStarted() bool { return s.actionStarted }
func (s *Segment) HasCriteria() bool   { return len(s.EndCriteria) > 0 }

// MarkMatched records that the end criteria matched. It stays set until ReplayReset.
func (s *Segment) MarkMatched() {
	s.matched = true
}

// ActionCompleted is true with no action, or when the action says so. An action
// with no self-determined end completes when the segment matched.
func (s *Segment) ActionCompleted() bool {
	if s.BotAction == nil || s.BotAction.Data == nil {
		return true
	}
	done, ok := s.BotAction.Data.IsCompleted()
	if !ok {
		return s.matched
	}
	return done
}

// TransientMatched is true when any transient criterion in the tree has matched.
// A segment with no criteria counts as transient matched.
func (s *Segment) TransientMatched() bool {
	if len(s.EndCriteria) == 0 {
		return true
	}
	return criteria.AnyTransientMatched(s.EndCriteria)
}

func (s *Segment) HasTransientCriteria() bool {
	return criteria.HasTransient(s.EndCriteria)
}

// EffectiveAPIVersion is the highest version used by the segment, its action, criteria and validations.
func (s *Segment) EffectiveAPIVersion() int {
	v := s.APIVersion
	v = max(v, s.BotAction.EffectiveAPIVersion())
	v = max(v, criteria.MaxAPIVersion(s.EndCriteria))
	v = max(v, s.Validations.APIVersion())
	return v
}

func (s *Segment) String() string {
	if s.Name == "" {
		return fmt.Sprintf("segment #%d", s.ordinal)
	}
	return fmt.Sprintf("segment #%d (%s)", s.ordinal, s.Name)
}
// #endregion segment

// #region action-lifecycle
// ProcessAction starts the action on first call and then processes it.
// A segment without an action is started immediately and never acts.
func (s *Segment) ProcessAction(snap world.Snapshot) (bool, error) {
	if s.BotAction == nil || s.BotAction.Data == nil {
		s.actionStarted = true
		return false, nil
	}
	if !s.actionStarted {
		s.BotAction.Data.Start(s.ordinal, snap)
		s.actionStarted = true
	}
	return s.BotAction.Data.Process(s.ordinal, snap)
}

// StopAction asks the action to finish what it is doing.
func (s *Segment) StopAction() {
	if s.BotAction != nil && s.BotAction.Data != nil {
		s.BotAction.Data.Stop(s.ordinal)
	}
}

// AbortAction stops the action without waiting.
func (s *Segment) AbortAction() {
	if s.BotAction != nil && s.BotAction.Data != nil {
		s.BotAction.Data.Abort(s.ordinal)
	}
}

func (s *Segment) PauseAction() {
	if s.BotAction != nil && s.BotAction.Data != nil {
		s.BotAction.Data.Pause(s.ordinal)
	}
	s.Validations.Pause()
}

func (s *Segment) UnpauseAction() {
	if s.BotAction != nil && s.BotAction.Data != nil {
		s.BotAction.Data.Unpause(s.ordinal)
	}
	s.Validations.Unpause()
}
// #endregion action-lifecycle

// #region validations
// ProcessValidations evaluates the segment validations against the current frame.
func (s *Segment) ProcessValidations(frame int, snap world.Snapshot) {
	if len(s.Validations) == 0 {
		return
	}
	s.Validations.Process(validation.NewEnv(frame, s.ordinal, snap))
}

func (s *Segment) ValidationsCompleted() bool {
	return s.Validations.Done()
}

func (s *Segment) StopValidations() {
	s.Validations.Stop()
}
// #endregion validations

// #region reset
// ReplayReset restores every runtime flag so the segment can be played again.
func (s *Segment) ReplayReset() {
	criteria.ResetAll(s.EndCriteria)
	if s.BotAction != nil && s.BotAction.Data != nil {
		s.BotAction.Data.ReplayReset()
	}
	s.Validations.ReplayReset()
	s.matched = false
	s.actionStarted = false
}
// #endregion reset
