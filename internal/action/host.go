package action

import (
	"fmt"
	"log"

	"github.com/danielpatrickdp/segment-replay/internal/checkpoint"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// #region restart-game
// RestartGame asks the host to restart the application. With RestartSequenceAfterRestart the
// plan is checkpointed first so the next startup plays it again from the beginning.
// It should be the last segment of a plan.
type RestartGame struct {
	Version                     int  `json:"apiVersion"`
	RestartSequenceAfterRestart bool `json:"restartSequenceAfterRestart"`

	env     *Env
	stopped bool
}

func (a *RestartGame) bind(env *Env)   { a.env = env }
func (a *RestartGame) APIVersion() int { return a.Version }

func (a *RestartGame) Start(int, world.Snapshot) {}

func (a *RestartGame) Process(ordinal int, _ world.Snapshot) (bool, error) {
	if a.stopped {
		return false, nil
	}
	a.stopped = true
	if a.env == nil || a.env.Host == nil {
		return false, fmt.Errorf("restart game: no host configured: %w", ErrFatal)
	}

	checkpointed := false
	if a.RestartSequenceAfterRestart && a.env.PlanPath != "" {
		if err := checkpoint.Save(a.env.CheckpointDir, a.env.PlanPath); err != nil {
			return false, fmt.Errorf("restart game: %w", err)
		}
		checkpointed = true
	}

	log.Printf("[ACTION] (%d) - Bot Segment - Restarting the application", ordinal)
	if err := a.env.Host.Restart(); err != nil {
		// nothing restarted, so nothing may resume from the checkpoint
		if checkpointed {
			if cerr := checkpoint.Clear(a.env.CheckpointDir); cerr != nil {
				log.Printf("[CHECKPOINT] %v", cerr)
			}
		}
		return false, fmt.Errorf("restart game: %w", err)
	}
	return true, nil
}

func (a *RestartGame) Stop(int)                  {}
func (a *RestartGame) Abort(int)                 { a.stopped = true }
func (a *RestartGame) Pause(int)                 {}
func (a *RestartGame) Unpause(int)               {}
func (a *RestartGame) IsCompleted() (bool, bool) { return a.stopped, true }
func (a *RestartGame) ReplayReset()              { a.stopped = false }
// #endregion restart-game

// #region quit-game
// QuitGame asks the host to quit the application. Segments after it never run.
type QuitGame struct {
	Version int `json:"apiVersion"`

	env     *Env
	stopped bool
}

func (a *QuitGame) bind(env *Env)   { a.env = env }
func (a *QuitGame) APIVersion() int { return a.Version }

func (a *QuitGame) Start(int, world.Snapshot) {}

func (a *QuitGame) Process(ordinal int, _ world.Snapshot) (bool, error) {
	if a.stopped {
		return false, nil
	}
	a.stopped = true
	if a.env == nil || a.env.Host == nil {
		return false, fmt.Errorf("quit game: no host configured: %w", ErrFatal)
	}
	log.Printf("[ACTION] (%d) - Bot Segment - Quitting the application", ordinal)
	if err := a.env.Host.Quit(); err != nil {
		return false, fmt.Errorf("quit game: %w", err)
	}
	return true, nil
}

func (a *QuitGame) Stop(int)                  {}
func (a *QuitGame) Abort(int)                 { a.stopped = true }
func (a *QuitGame) Pause(int)                 {}
func (a *QuitGame) Unpause(int)               {}
func (a *QuitGame) IsCompleted() (bool, bool) { return a.stopped, true }
func (a *QuitGame) ReplayReset()              { a.stopped = false }
// #endregion quit-game
