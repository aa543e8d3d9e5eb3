package plan

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchSettle = 500 * time.Millisecond

// Watch calls onChange after writes to location settle. A directory is watched for
// any plan file change, a file for changes to itself. It returns when ctx is done.
func Watch(ctx context.Context, location string, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create plan watcher: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(location)
	dir := target
	single := false
	if filepath.Ext(target) != "" {
		dir = filepath.Dir(target)
		single = true
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if single && filepath.Clean(ev.Name) != target {
				continue
			}
			if !single && !isPlanFile(ev.Name) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchSettle, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			log.Printf("[PLAN] change detected under %s", location)
			onChange()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("[PLAN] watcher error: %v", err)
		}
	}
}
