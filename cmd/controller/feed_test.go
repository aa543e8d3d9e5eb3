package main

import (
	"context"
	"strings"
	"testing"

	"github.com/danielpatrickdp/segment-replay/internal/replay"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

func feedFrame(changed bool) replay.FixtureFrame {
	return replay.FixtureFrame{
		Objects:          []world.ObjectStatus{{ID: 1, Path: "Root/Menu"}},
		PixelHashChanged: changed,
	}
}

func TestReadFeedKeepsLatestFrame(t *testing.T) {
	feed := strings.Join([]string{
		`{"objects":[{"id":1,"path":"Root/Menu"}]}`,
		``,
		`not json`,
		`{"objects":[{"id":2,"path":"Root/Enemy"},{"id":3,"path":"Root/Enemy"}],"pixelHashChanged":true}`,
	}, "\n")

	src := &liveSource{}
	if err := readFeed(context.Background(), strings.NewReader(feed), src); err != nil {
		t.Fatalf("readFeed: %v", err)
	}
	if src.frames() != 2 {
		t.Fatalf("frames = %d, want 2", src.frames())
	}

	snap := src.next()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d objects, want 2", len(snap))
	}
	if snap[2].Path != "Root/Enemy" {
		t.Errorf("object 2 path = %q", snap[2].Path)
	}
	if !src.HasPixelHashChanged() {
		t.Error("pixel hash change should be visible on the next tick")
	}
}

func TestPixelHashChangeLatchedPerTick(t *testing.T) {
	src := &liveSource{}
	src.update(feedFrame(true))
	src.update(feedFrame(false))

	src.next()
	if !src.HasPixelHashChanged() {
		t.Fatal("change from an earlier frame should survive until the tick")
	}
	src.next()
	if src.HasPixelHashChanged() {
		t.Fatal("change should be consumed by the tick that saw it")
	}
}

func TestScreenshotFollowsTick(t *testing.T) {
	src := &liveSource{}
	if _, ok := src.Screenshot(1); ok {
		t.Fatal("no screenshot before the first frame")
	}
	f := feedFrame(false)
	f.Screenshot = &world.Screenshot{Width: 4, Height: 2, JPEG: []byte{0xff, 0xd8}}
	src.update(f)
	if _, ok := src.Screenshot(1); ok {
		t.Fatal("screenshot should not change until the next tick")
	}
	src.next()
	shot, ok := src.Screenshot(1)
	if !ok || shot.Width != 4 {
		t.Fatalf("Screenshot = %+v, %v", shot, ok)
	}
}

func TestLogSinkCounts(t *testing.T) {
	s := &logSink{}
	s.SendMouse(world.MouseEvent{Ordinal: 1, Left: true})
	s.SendKey(world.KeyEvent{Ordinal: 1, Key: "Space", Down: true})
	if s.sent != 2 {
		t.Errorf("sent = %d, want 2", s.sent)
	}
}
