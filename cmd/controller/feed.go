package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/danielpatrickdp/segment-replay/internal/replay"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

const maxFeedLine = 16 << 20

// #region source
// liveSource holds the newest frame from the feed. The feed goroutine writes it and the
// tick loop reads it through next, Screenshot and HasPixelHashChanged.
type liveSource struct {
	mu       sync.Mutex
	latest   replay.FixtureFrame
	received int
	changed  bool

	tickChanged bool
	shot        *world.Screenshot
}

// update replaces the latest frame. A pixel hash change is kept until the next tick sees it.
func (s *liveSource) update(f replay.FixtureFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = f
	s.received++
	s.changed = s.changed || f.PixelHashChanged
}

// next latches the frame for one tick and returns its snapshot.
func (s *liveSource) next() world.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickChanged = s.changed
	s.changed = false
	s.shot = s.latest.Screenshot
	snap := make(world.Snapshot, len(s.latest.Objects))
	for _, o := range s.latest.Objects {
		snap[o.ID] = o
	}
	return snap
}

func (s *liveSource) HasPixelHashChanged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickChanged
}

func (s *liveSource) Screenshot(int) (world.Screenshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shot == nil {
		return world.Screenshot{}, false
	}
	return *s.shot, true
}

func (s *liveSource) frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}
// #endregion source

// #region feed
// readFeed decodes one JSON frame per line into src until r ends or ctx is done.
// Blank lines are skipped. A malformed line is logged and dropped.
func readFeed(ctx context.Context, r io.Reader, src *liveSource) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFeedLine)
	line := 0
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var f replay.FixtureFrame
		if err := json.Unmarshal(b, &f); err != nil {
			log.Printf("[FEED] line %d: %v", line, err)
			continue
		}
		src.update(f)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read feed: %w", err)
	}
	return nil
}
// #endregion feed

// #region input
// logSink stands in for the platform input layer and logs what would be injected.
type logSink struct {
	verbose bool
	sent    int
}

func (s *logSink) SendMouse(ev world.MouseEvent) {
	s.sent++
	if s.verbose {
		log.Printf("[INPUT] (%d) mouse %s left=%v right=%v middle=%v scroll=%s",
			ev.Ordinal, ev.Position, ev.Left, ev.Right, ev.Middle, ev.Scroll)
	}
}

func (s *logSink) SendKey(ev world.KeyEvent) {
	s.sent++
	if s.verbose {
		log.Printf("[INPUT] (%d) key %s down=%v", ev.Ordinal, ev.Key, ev.Down)
	}
}
// #endregion input
