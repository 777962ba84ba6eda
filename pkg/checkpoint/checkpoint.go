// Package checkpoint persists the pipeline's completed-step counter.
//
// The checkpoint is a single text file under the run's output root holding
// one non-negative integer: the index of the last fully-completed stage.
// A missing or unreadable file is treated as a fresh run (step 0); writes
// are atomic (temp file + rename) so a crash mid-write never leaves a
// torn file that parses as a different step.
//
// The file is never deleted by the pipeline. Removing it by hand is the
// supported way to force a full re-run.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// FileName is the checkpoint file name under the output root.
const FileName = "checkpoint"

// Manager reads and writes the checkpoint for one output root.
//
// A Manager is bound to a single root at construction time. It keeps no
// in-memory cache: Read always reflects the file, and callers that need an
// authoritative in-process value after a failed Write hold it themselves.
type Manager struct {
	root   string
	logger *zap.Logger
}

// New creates a Manager bound to the given output root.
// A nil logger is replaced with a no-op logger.
func New(root string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{root: root, logger: logger}
}

// Path returns the checkpoint file path.
func (m *Manager) Path() string {
	return filepath.Join(m.root, FileName)
}

// Read returns the persisted step.
//
// A missing file means a fresh run and returns 0. Content that does not
// parse as a single non-negative integer is logged as a warning and also
// returns 0; the caller decides whether that reset is consistent with the
// rest of the on-disk state.
func (m *Manager) Read() int {
	b, err := os.ReadFile(m.Path())
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("Failed to read checkpoint, treating as fresh run",
				zap.String("path", m.Path()), zap.Error(err))
		}
		return 0
	}

	step, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || step < 0 {
		m.logger.Warn("Checkpoint content is not a non-negative integer, treating as fresh run",
			zap.String("path", m.Path()), zap.String("content", strings.TrimSpace(string(b))))
		return 0
	}
	return step
}

// Write persists the step, overwriting any prior value.
//
// The write goes to a temp file in the same directory followed by a rename,
// so readers never observe a partially-written value.
func (m *Manager) Write(step int) error {
	if step < 0 {
		return fmt.Errorf("checkpoint step must be non-negative, got %d", step)
	}
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return fmt.Errorf("create output root: %w", err)
	}

	tmp, err := os.CreateTemp(m.root, FileName+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.WriteString(strconv.Itoa(step) + "\n"); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, m.Path()); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Advance reads the current step, increments it, writes and returns the new
// value. It is called exactly once per stage, after the stage's aggregate
// result has been accepted.
//
// A write failure is returned to the caller, who keeps the in-memory step
// authoritative for the remainder of the process; the worst case on the next
// run is redundant, idempotent recomputation of the unrecorded stage.
func (m *Manager) Advance() (int, error) {
	next := m.Read() + 1
	if err := m.Write(next); err != nil {
		return next, err
	}
	return next, nil
}
