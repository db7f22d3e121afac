// Package statusfile persists a crash-safe snapshot of the poller's last
// completed tick to disk, grounded on ManuGH-xg2g's internal/jobs
// write_unix.go use of renameio for durable atomic writes (fsync before
// rename), applied here to a small JSON status document instead of a
// playlist file.
package statusfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// Snapshot is the last known state of the poller, written after every
// completed tick so an operator can inspect poller health without
// scraping logs or metrics.
type Snapshot struct {
	TickID           string    `json:"tickId"`
	StartedAt        time.Time `json:"startedAt"`
	CompletedAt      time.Time `json:"completedAt"`
	CoursesProcessed int       `json:"coursesProcessed"`
	OpenedCount      int       `json:"openedCount"`
	ClosedCount      int       `json:"closedCount"`
	ErrorCount       int       `json:"errorCount"`
	NextIntervalMS   int64     `json:"nextIntervalMs"`
	PID              int       `json:"pid"`
}

// Write atomically replaces the status file at path with snap's JSON
// encoding. The containing directory is created if it does not exist.
func Write(path string, snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("statusfile: create directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("statusfile: marshal snapshot: %w", err)
	}
	data = append(data, '\n')

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("statusfile: create pending file: %w", err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("statusfile: write pending file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("statusfile: atomic replace: %w", err)
	}
	return nil
}

// Read loads the last written Snapshot from path. It returns the zero
// Snapshot and no error if the file does not yet exist (first run).
func Read(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("statusfile: read: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("statusfile: parse: %w", err)
	}
	return snap, nil
}
