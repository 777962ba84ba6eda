// Package scan discovers audio and video files under an input directory.
//
// The scanner walks the tree recursively, keeping files whose extension is
// in the supported set and skipping hidden directories plus a fixed set of
// system and tooling directories. Unreadable entries are logged and
// skipped; discovery order is deterministic (lexicographic within each
// directory) so item ordinals are stable across runs.
package scan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// audioExtensions are inputs that need no extraction step.
var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".flac": true, ".aac": true,
	".ogg": true, ".m4a": true, ".wma": true, ".opus": true,
}

// videoExtensions are inputs whose audio track must be extracted.
var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mkv": true, ".mov": true,
	".wmv": true, ".flv": true, ".webm": true, ".m4v": true,
	".mpg": true, ".mpeg": true,
}

// skipDirNames are directory names (lowercased) never descended into.
var skipDirNames = map[string]bool{
	"$recycle.bin": true, "recycle.bin": true, "system volume information": true,
	"temp": true, "tmp": true, "cache": true,
	"logs": true, "log": true, "backup": true, "backups": true,
	"node_modules": true, "venv": true, "env": true, "virtualenv": true,
	"__pycache__": true,
}

// IsAudio reports whether the path has a supported audio extension.
func IsAudio(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsSupported reports whether the path has any supported audio or video
// extension.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return audioExtensions[ext] || videoExtensions[ext]
}

// Config configures a Scanner.
type Config struct {
	// Includes are optional doublestar patterns matched against the
	// path relative to the input root. Empty means include everything
	// with a supported extension.
	Includes []string

	// Excludes are optional doublestar patterns; a match drops the file
	// even if it matched an include.
	Excludes []string
}

// Scanner discovers supported media files.
type Scanner struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Scanner. A nil logger is replaced with a no-op logger.
func New(cfg Config, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{cfg: cfg, logger: logger}
}

// Scan walks root and returns the absolute paths of all supported media
// files in deterministic order.
//
// Per-entry errors (permission denied, vanished files) are logged and the
// walk continues; only a missing or non-directory root is fatal. An empty
// result is not an error.
func (s *Scanner) Scan(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path is not a directory: %s", root)
	}

	var found []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			s.logger.Warn("Skipping unreadable entry", zap.String("path", path), zap.Error(walkErr))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path == root {
				return nil
			}
			name := strings.ToLower(d.Name())
			if strings.HasPrefix(name, ".") || skipDirNames[name] {
				s.logger.Debug("Skipping directory", zap.String("path", path))
				return filepath.SkipDir
			}
			return nil
		}

		if !IsSupported(path) {
			return nil
		}
		ok, err := s.matches(root, path)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			s.logger.Warn("Skipping file with unresolvable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		found = append(found, abs)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	// WalkDir visits entries lexicographically, but normalize anyway so
	// ordinals never depend on filesystem iteration quirks.
	sort.Strings(found)

	s.logger.Info("Discovery complete",
		zap.String("root", root),
		zap.Int("files", len(found)))
	return found, nil
}

// matches applies the optional include/exclude patterns.
func (s *Scanner) matches(root, path string) (bool, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	if len(s.cfg.Includes) > 0 {
		included := false
		for _, pat := range s.cfg.Includes {
			ok, err := doublestar.Match(pat, rel)
			if err != nil {
				return false, fmt.Errorf("invalid include pattern %q: %w", pat, err)
			}
			if ok {
				included = true
				break
			}
		}
		if !included {
			return false, nil
		}
	}

	for _, pat := range s.cfg.Excludes {
		ok, err := doublestar.Match(pat, rel)
		if err != nil {
			return false, fmt.Errorf("invalid exclude pattern %q: %w", pat, err)
		}
		if ok {
			return false, nil
		}
	}
	return true, nil
}
