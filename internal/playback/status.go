package playback

import (
	"fmt"
	"time"

	"github.com/danielpatrickdp/segment-replay/internal/validation"
)

// #region state
// State is where the controller is in its lifecycle.
type State int

const (
	NotLoaded State = iota
	Stopped
	Starting
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case NotLoaded:
		return "NotLoaded"
	case Stopped:
		return "Stopped"
	case Starting:
		return "Starting"
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for st := NotLoaded; st <= Paused; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown playback state %q", b)
}
// #endregion state

// #region status
// Status is a point in time view of playback, safe to hand to other goroutines.
type Status struct {
	State       State               `json:"state"`
	SessionID   string              `json:"sessionId,omitempty"`
	Plan        string              `json:"plan,omitempty"`
	Frame       int                 `json:"frame"`
	LoopCount   int                 `json:"loopCount"`
	Window      []int               `json:"window"`
	Exploring   bool                `json:"exploring"`
	StallReason string              `json:"stallReason,omitempty"`
	LastError   string              `json:"lastError,omitempty"`
	Success     *bool               `json:"success,omitempty"`
	Validations []validation.Result `json:"validations,omitempty"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}
// #endregion status

// #region errors
// TickError reports a panic recovered while evaluating a tick.
type TickError struct {
	Ordinal int
	Cause   any
}

func (e *TickError) Error() string {
	return fmt.Sprintf("(%d) - Bot Segment - Exception processing BotSegments: %v", e.Ordinal, e.Cause)
}

func (e *TickError) Unwrap() error {
	if err, ok := e.Cause.(error); ok {
		return err
	}
	return nil
}
// #endregion errors

// #region recorder
// Recorder receives the playback events worth keeping after the run.
type Recorder interface {
	RunStarted(sessionID, plan string, loop int)
	SegmentMatched(ordinal int, name string)
	SegmentCompleted(ordinal int, name string)
	Stalled(ordinal int, reason string)
	RunEnded(success bool, reason string, results []validation.Result)
}

type nopRecorder struct{}

func (nopRecorder) RunStarted(string, string, int)             {}
func (nopRecorder) SegmentMatched(int, string)                 {}
func (nopRecorder) SegmentCompleted(int, string)               {}
func (nopRecorder) Stalled(int, string)                        {}
func (nopRecorder) RunEnded(bool, string, []validation.Result) {}
// #endregion recorder
