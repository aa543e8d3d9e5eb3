package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const hostCommandTimeout = 2 * time.Minute

// commandHost restarts or quits the application under test by running the configured
// commands. A quit also ends the controller since no later segment can run.
type commandHost struct {
	restart []string
	quit    []string

	quitting chan struct{}
	once     sync.Once
}

func newCommandHost(restart, quit string) *commandHost {
	return &commandHost{
		restart:  strings.Fields(restart),
		quit:     strings.Fields(quit),
		quitting: make(chan struct{}),
	}
}

func (h *commandHost) Restart() error {
	if len(h.restart) == 0 {
		return errors.New("no restart command configured (REPLAY_RESTART_CMD)")
	}
	return runHostCommand(h.restart)
}

func (h *commandHost) Quit() error {
	defer h.once.Do(func() { close(h.quitting) })
	if len(h.quit) == 0 {
		return nil
	}
	return runHostCommand(h.quit)
}

func runHostCommand(argv []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), hostCommandTimeout)
	defer cancel()

	log.Printf("[HOST] running %s", strings.Join(argv, " "))
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s: timeout after %s", argv[0], hostCommandTimeout)
	}
	if err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
