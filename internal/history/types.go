package history

import "time"

// #region run
// Run is one pass over a plan. A looping replay writes one run per loop.
type Run struct {
	RunID       string
	SessionID   string
	Plan        string
	Loop        int
	StartedAt   time.Time
	EndedAt     time.Time // zero while running
	Ended       bool
	Success     bool
	Reason      string
	Validations string // JSON array of validation results
}
// #endregion run

// #region segment-event
// Event kinds written to segment_events.
const (
	EventMatched   = "matched"
	EventCompleted = "completed"
)

// SegmentEvent is a single row in the segment_events table.
type SegmentEvent struct {
	ID        int64
	RunID     string
	Ordinal   int
	Name      string
	Event     string // "matched" | "completed"
	CreatedAt time.Time
}
// #endregion segment-event

// #region stall-entry
// StallEntry is a single row in the stall_log table.
type StallEntry struct {
	ID        int64
	RunID     string
	Ordinal   int
	Reason    string
	CreatedAt time.Time
}
// #endregion stall-entry
