package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danielpatrickdp/segment-replay/internal/plan"
	"github.com/danielpatrickdp/segment-replay/internal/playback"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string          `json:"description"`
	Plan        string          `json:"plan"` // relative to the fixture file
	Config      FixtureConfig   `json:"config"`
	Frames      []FixtureFrame  `json:"frames"`
	Expected    FixtureExpected `json:"expected"`

	dir string
}

// FixtureConfig mirrors Config with JSON tags.
type FixtureConfig struct {
	HaltOnFatal     bool       `json:"haltOnFatal"`
	PauseOnStall    bool       `json:"pauseOnStall"`
	Explore         bool       `json:"explore"`
	Loop            bool       `json:"loop"`
	FrameIntervalMs int        `json:"frameIntervalMs"`
	LogIntervalMs   int        `json:"logIntervalMs"`
	Seed            uint64     `json:"seed"`
	ScreenSize      world.Size `json:"screenSize"`
}

// FixtureFrame is one recorded frame. Repeat plays it that many times.
type FixtureFrame struct {
	Objects          []world.ObjectStatus `json:"objects"`
	Screenshot       *world.Screenshot    `json:"screenshot,omitempty"`
	PixelHashChanged bool                 `json:"pixelHashChanged"`
	AdvanceMs        int                  `json:"advanceMs"`
	Repeat           int                  `json:"repeat"`
}

// FixtureExpected captures the expected outcome of the run.
type FixtureExpected struct {
	Success    *bool  `json:"success"`
	Completed  []int  `json:"completed"`
	FinalState string `json:"finalState"`
	MaxFrames  int    `json:"maxFrames"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	f.dir = filepath.Dir(path)
	return &f, nil
}

// LoadPlan loads the plan the fixture points at.
func (f *Fixture) LoadPlan(ctx context.Context, loader *plan.Loader) (*plan.Container, error) {
	if f.Plan == "" {
		return nil, fmt.Errorf("fixture has no plan")
	}
	location := f.Plan
	if _, _, remote := plan.ParseObjectURL(location); !remote && !filepath.IsAbs(location) {
		location = filepath.Join(f.dir, location)
	}
	return loader.Load(ctx, location)
}

// ToFrames expands repeated frames.
func (f *Fixture) ToFrames() []Frame {
	var frames []Frame
	for _, ff := range f.Frames {
		n := max(ff.Repeat, 1)
		for range n {
			frames = append(frames, Frame{
				Objects:          ff.Objects,
				Screenshot:       ff.Screenshot,
				PixelHashChanged: ff.PixelHashChanged,
				Advance:          time.Duration(ff.AdvanceMs) * time.Millisecond,
			})
		}
	}
	return frames
}

// ToConfig converts a FixtureConfig to a harness Config.
func (fc *FixtureConfig) ToConfig() Config {
	cfg := DefaultConfig()
	cfg.HaltOnFatal = fc.HaltOnFatal
	cfg.PauseOnStall = fc.PauseOnStall
	cfg.Explore = fc.Explore
	cfg.Loop = fc.Loop
	if fc.FrameIntervalMs > 0 {
		cfg.FrameInterval = time.Duration(fc.FrameIntervalMs) * time.Millisecond
	}
	if fc.LogIntervalMs > 0 {
		cfg.LogInterval = time.Duration(fc.LogIntervalMs) * time.Millisecond
	}
	if fc.Seed != 0 {
		cfg.Seed = fc.Seed
	}
	if fc.ScreenSize.Width > 0 && fc.ScreenSize.Height > 0 {
		cfg.ScreenSize = fc.ScreenSize
	}
	return cfg
}

// Check compares a summary with the expectations and returns every mismatch.
func (e *FixtureExpected) Check(results []TickResult, s Summary) []string {
	var problems []string
	if e.Success != nil {
		if !s.Finished {
			problems = append(problems, "run did not finish")
		} else if s.Success != *e.Success {
			problems = append(problems, fmt.Sprintf("success = %v, want %v", s.Success, *e.Success))
		}
	}
	if e.FinalState != "" {
		var want playback.State
		if err := want.UnmarshalText([]byte(e.FinalState)); err != nil {
			problems = append(problems, err.Error())
		} else if s.FinalState != want {
			problems = append(problems, fmt.Sprintf("final state = %s, want %s", s.FinalState, want))
		}
	}
	if e.Completed != nil {
		var got []int
		for _, r := range results {
			got = append(got, r.Completed...)
		}
		if fmt.Sprint(got) != fmt.Sprint(e.Completed) {
			problems = append(problems, fmt.Sprintf("completed = %v, want %v", got, e.Completed))
		}
	}
	if e.MaxFrames > 0 && s.Frames > e.MaxFrames {
		problems = append(problems, fmt.Sprintf("took %d frames, want at most %d", s.Frames, e.MaxFrames))
	}
	return problems
}

// #endregion fixture-loader
