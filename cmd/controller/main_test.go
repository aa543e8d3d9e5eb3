package main

import (
	"errors"
	"testing"

	"github.com/danielpatrickdp/segment-replay/internal/checkpoint"
	"github.com/danielpatrickdp/segment-replay/internal/keyframe"
	"github.com/danielpatrickdp/segment-replay/internal/playback"
	"github.com/danielpatrickdp/segment-replay/internal/statusapi"
)

func TestStopCommandDropsCheckpoint(t *testing.T) {
	dir := t.TempDir()
	if err := checkpoint.Save(dir, "plans/menu"); err != nil {
		t.Fatalf("save: %v", err)
	}
	ctrl := playback.New(keyframe.New(keyframe.Options{}), playback.Options{})
	reload := func() { t.Fatal("stop must not reload the plan") }
	dropCheckpoint := func() {
		if err := checkpoint.Clear(dir); err != nil {
			t.Fatalf("clear: %v", err)
		}
	}

	apply(ctrl, statusapi.CommandPause, reload, dropCheckpoint)
	if _, err := checkpoint.Consume(dir); err != nil {
		t.Fatalf("pause must keep the checkpoint: %v", err)
	}

	if err := checkpoint.Save(dir, "plans/menu"); err != nil {
		t.Fatalf("save: %v", err)
	}
	apply(ctrl, statusapi.CommandStop, reload, dropCheckpoint)
	if _, err := checkpoint.Consume(dir); !errors.Is(err, checkpoint.ErrNoCheckpoint) {
		t.Fatalf("expected stop to drop the checkpoint, got %v", err)
	}
}
