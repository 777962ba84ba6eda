// Package extract produces per-item MP3 audio from source media files by
// invoking ffmpeg, with ffprobe-based verification.
//
// Sources that are already audio pass through untouched. An existing
// extracted file whose duration matches the source is reused instead of
// re-extracted, which makes the stage safe to re-run wholesale.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mediascribe/mediascribe/pkg/manifest"
	"github.com/mediascribe/mediascribe/pkg/scan"
	"github.com/mediascribe/mediascribe/pkg/stage"
)

const (
	// extractTimeout bounds a single ffmpeg invocation.
	extractTimeout = 5 * time.Minute

	// probeTimeout bounds a single ffprobe invocation.
	probeTimeout = 10 * time.Second

	// durationToleranceSec is the allowed difference between source and
	// extracted durations before an existing or fresh output is rejected.
	durationToleranceSec = 5.0
)

// Runner executes an external command and returns its stdout.
// It exists so tests exercise the extractor without ffmpeg installed.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, lastLine(msg))
		}
		return stdout.Bytes(), fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// Config configures an Extractor.
type Config struct {
	// FFmpegPath is the ffmpeg binary. Default "ffmpeg" (PATH lookup).
	FFmpegPath string

	// FFprobePath is the ffprobe binary. Default "ffprobe".
	FFprobePath string

	// OutputDir receives the numbered MP3 files.
	OutputDir string
}

// Extractor extracts MP3 audio tracks from source media.
type Extractor struct {
	cfg    Config
	runner Runner
	logger *zap.Logger
}

// New creates an Extractor. A nil runner defaults to ExecRunner; a nil
// logger is replaced with a no-op logger.
func New(cfg Config, runner Runner, logger *zap.Logger) *Extractor {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, runner: runner, logger: logger}
}

// Worker returns the stage worker function for one source record.
//
// A source that is already audio passes through as a skipped outcome,
// as does a numbered output whose duration matches the source. A fresh
// extraction that verifies is a success; anything else fails the item.
func (e *Extractor) Worker() stage.WorkerFn[manifest.SourceRecord, manifest.AudioRecord] {
	return func(ctx context.Context, idx int, src manifest.SourceRecord) stage.Outcome[manifest.AudioRecord] {
		return e.extractOne(ctx, src)
	}
}

func (e *Extractor) extractOne(ctx context.Context, src manifest.SourceRecord) stage.Outcome[manifest.AudioRecord] {
	if scan.IsAudio(src.Path) {
		info, err := os.Stat(src.Path)
		if err != nil {
			return stage.Failure[manifest.AudioRecord](fmt.Errorf("source audio missing: %w", err))
		}
		dur, _ := e.Duration(ctx, src.Path)
		return stage.Skipped(manifest.AudioRecord{
			Ordinal:     src.Ordinal,
			Path:        src.Path,
			PassThrough: true,
			SizeBytes:   info.Size(),
			DurationSec: dur,
		})
	}

	if err := os.MkdirAll(e.cfg.OutputDir, 0755); err != nil {
		return stage.Failure[manifest.AudioRecord](fmt.Errorf("create audio dir: %w", err))
	}
	outPath := filepath.Join(e.cfg.OutputDir, fmt.Sprintf("%03d.mp3", src.Ordinal))

	// Reuse an existing output only when its duration matches the source.
	if _, err := os.Stat(outPath); err == nil {
		if e.durationsMatch(ctx, src.Path, outPath) {
			info, _ := os.Stat(outPath)
			dur, _ := e.Duration(ctx, outPath)
			e.logger.Debug("Reusing existing extracted audio", zap.String("path", outPath))
			return stage.Skipped(manifest.AudioRecord{
				Ordinal:     src.Ordinal,
				Path:        outPath,
				SizeBytes:   info.Size(),
				DurationSec: dur,
			})
		}
		e.logger.Debug("Existing extracted audio failed verification, re-extracting",
			zap.String("path", outPath))
		_ = os.Remove(outPath)
	}

	runCtx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	_, err := e.runner.Run(runCtx, e.cfg.FFmpegPath,
		"-i", src.Path,
		"-vn",
		"-acodec", "libmp3lame",
		"-q:a", "2",
		"-y",
		outPath,
	)
	if err != nil {
		return stage.Failure[manifest.AudioRecord](fmt.Errorf("extract %s: %w", filepath.Base(src.Path), err))
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return stage.Failure[manifest.AudioRecord](fmt.Errorf("extracted file missing: %w", err))
	}
	if !e.durationsMatch(ctx, src.Path, outPath) {
		return stage.Failure[manifest.AudioRecord](fmt.Errorf("extracted audio failed duration verification: %s", outPath))
	}

	dur, _ := e.Duration(ctx, outPath)
	return stage.Success(manifest.AudioRecord{
		Ordinal:     src.Ordinal,
		Path:        outPath,
		SizeBytes:   info.Size(),
		DurationSec: dur,
	})
}

// Duration returns the media duration in seconds via ffprobe.
func (e *Extractor) Duration(ctx context.Context, path string) (float64, error) {
	runCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := e.runner.Run(runCtx, e.cfg.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", path, err)
	}

	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration for %s: %w", path, err)
	}
	return dur, nil
}

// durationsMatch verifies that two media files are within the accepted
// duration tolerance. Unprobeable files never match.
func (e *Extractor) durationsMatch(ctx context.Context, srcPath, outPath string) bool {
	srcDur, err := e.Duration(ctx, srcPath)
	if err != nil {
		return false
	}
	outDur, err := e.Duration(ctx, outPath)
	if err != nil {
		return false
	}
	return math.Abs(srcDur-outDur) <= durationToleranceSec
}
