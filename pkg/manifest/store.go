package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store resolves manifest paths inside one working directory.
//
// Store carries no state beyond the directory; all reads and writes go
// through Load and Save so every manifest on disk is complete and ordered.
type Store struct {
	dir string
}

// NewStore creates a Store for the given working directory.
func NewStore(dir string) *Store {
	return &Store{dir: strings.TrimSpace(dir)}
}

// Dir returns the working directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the absolute path for a manifest file name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Save writes records as an indented JSON array, atomically.
//
// The payload goes to a temp file in the manifest's directory and is
// renamed into place, so a crash mid-write never leaves a truncated
// manifest behind. An existing manifest is replaced wholesale.
func Save[T any](path string, records []T) error {
	if records == nil {
		records = []T{}
	}
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	b = append(b, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp manifest: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}

// Load reads a manifest written by Save.
func Load[T any](path string) ([]T, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var records []T
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return records, nil
}
