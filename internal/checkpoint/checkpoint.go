package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
)

// SchemaVersion is the checkpoint layout this package writes and accepts.
const SchemaVersion = 1

// FileName is the checkpoint file inside the checkpoint directory.
const FileName = "SequenceRestart.json"

var ErrNoCheckpoint = errors.New("no checkpoint")

// #region types
// Checkpoint records the plan to replay again after the application restarts.
// It resumes from the beginning of the plan, never from a segment.
type Checkpoint struct {
	SchemaVersion int    `json:"schemaVersion"`
	PlanPath      string `json:"planPath"`
}
// #endregion types

// #region save
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Save replaces any existing checkpoint in dir with one for planPath.
func Save(dir, planPath string) error {
	if planPath == "" {
		return errors.New("save checkpoint: empty plan path")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	b, err := json.Marshal(Checkpoint{SchemaVersion: SchemaVersion, PlanPath: planPath})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, FileName+".*")
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), Path(dir)); err != nil {
		return fmt.Errorf("install checkpoint: %w", err)
	}
	log.Printf("[CHECKPOINT] saved %s", planPath)
	return nil
}
// #endregion save

// #region consume
// Consume reads and deletes the checkpoint in dir. It returns ErrNoCheckpoint when there is none.
// A checkpoint that cannot be read is deleted as well so it is never retried.
func Consume(dir string) (Checkpoint, error) {
	p := Path(dir)
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Checkpoint{}, ErrNoCheckpoint
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read checkpoint: %w", err)
	}
	if err := os.Remove(p); err != nil {
		return Checkpoint{}, fmt.Errorf("remove checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	if cp.SchemaVersion != SchemaVersion {
		return Checkpoint{}, fmt.Errorf("checkpoint schema version %d, want %d", cp.SchemaVersion, SchemaVersion)
	}
	if cp.PlanPath == "" {
		return Checkpoint{}, errors.New("checkpoint has no plan path")
	}
	log.Printf("[CHECKPOINT] resuming %s", cp.PlanPath)
	return cp, nil
}

// Clear deletes the checkpoint in dir if there is one.
func Clear(dir string) error {
	if err := os.Remove(Path(dir)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}
// #endregion consume
