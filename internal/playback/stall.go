package playback

import (
	"time"

	"golang.org/x/time/rate"
)

const defaultLogInterval = 10 * time.Second

// stallTimer rate limits diagnostics. Progress re-arms it so a warning is only
// due after a full quiet interval.
type stallTimer struct {
	interval time.Duration
	lim      *rate.Limiter
}

func newStallTimer(interval time.Duration, now time.Time) *stallTimer {
	if interval <= 0 {
		interval = defaultLogInterval
	}
	s := &stallTimer{interval: interval}
	s.touch(now)
	return s
}

// touch records progress at now.
func (s *stallTimer) touch(now time.Time) {
	s.lim = rate.NewLimiter(rate.Every(s.interval), 1)
	s.lim.AllowN(now, 1)
}

// due reports whether a quiet interval has passed since the last touch or warning.
func (s *stallTimer) due(now time.Time) bool {
	return s.lim.AllowN(now, 1)
}
