// Package pipeline orchestrates the media summarization stages.
//
// A run walks a fixed sequence of stages: discover media files, extract
// audio, upload to object storage, transcribe, and summarize. Progress
// is persisted as a single checkpoint counter plus per-stage manifest
// files, so an interrupted run resumes after its last completed stage
// instead of starting over.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mediascribe/mediascribe/pkg/checkpoint"
	"github.com/mediascribe/mediascribe/pkg/manifest"
	"github.com/mediascribe/mediascribe/pkg/report"
	"github.com/mediascribe/mediascribe/pkg/stage"
)

// Pipeline steps in execution order. The checkpoint stores the highest
// completed step; a stage runs only when the checkpoint is below its
// step number.
const (
	StepDiscover   = 1
	StepExtract    = 2
	StepUpload     = 3
	StepTranscribe = 4
	StepSummarize  = 5
)

// Stage names used in logs and report records.
const (
	StageDiscover   = "discover"
	StageExtract    = "extract"
	StageUpload     = "upload"
	StageTranscribe = "transcribe"
	StageSummarize  = "summarize"
)

// IntermediatesDirName is the directory under the output root that
// holds per-run working directories.
const IntermediatesDirName = "intermediates"

const workDirTimeFormat = "20060102_150405"

var workDirPattern = regexp.MustCompile(`^\d{8}_\d{6}$`)

// ErrMissingCredentials signals that a stage cannot run because its
// service credentials are not configured. The run completes degraded
// instead of failing: earlier results stay on disk and the checkpoint
// is marked terminal so re-runs without the credentials exit quickly.
var ErrMissingCredentials = errors.New("credentials not configured")

// TotalFailureError is returned when every unskipped item of a stage
// failed. The checkpoint is not advanced so the next run retries the
// stage.
type TotalFailureError struct {
	Stage  string
	Failed int
}

func (e *TotalFailureError) Error() string {
	return fmt.Sprintf("all %d items failed at stage %s", e.Failed, e.Stage)
}

// Config configures a Driver.
type Config struct {
	// OutputRoot is where summaries, the checkpoint, and the
	// intermediates tree live.
	OutputRoot string

	// Concurrency is the worker count per stage. Zero or negative
	// falls back to the stage executor default.
	Concurrency int

	// AudioOnly skips audio extraction: sources pass through to the
	// upload stage unchanged.
	AudioOnly bool

	// Fresh discards the checkpoint and starts a new working
	// directory, ignoring previous progress.
	Fresh bool

	// Now supplies the current time; nil means time.Now. Tests
	// override it to get deterministic working directory names.
	Now func() time.Time
}

// Collaborators supplies the per-stage workers. Factories receive the
// resolved working directory where relevant; a factory returning an
// error wrapping ErrMissingCredentials turns the run degraded at that
// stage.
type Collaborators struct {
	// Discover lists the media files to process, in stable order.
	Discover func(ctx context.Context) ([]manifest.SourceRecord, error)

	// Extract converts one source into a numbered audio file under
	// the working directory.
	Extract func(workDir string) stage.WorkerFn[manifest.SourceRecord, manifest.AudioRecord]

	// Upload puts one audio file into object storage and returns a
	// signed URL.
	Upload func() (stage.WorkerFn[manifest.AudioRecord, manifest.UploadRecord], error)

	// Transcribe turns one uploaded audio URL into a transcript file
	// under the working directory.
	Transcribe func(workDir string) (stage.WorkerFn[manifest.UploadRecord, manifest.TranscriptRecord], error)

	// Summarize writes one summary file to the output root.
	Summarize func() (stage.WorkerFn[manifest.TranscriptRecord, manifest.SummaryRecord], error)
}

// Result describes a finished run.
type Result struct {
	// Status is one of the report run status constants.
	Status string

	// WorkDir is the working directory the run used.
	WorkDir string

	// SourcesFound is the number of media files discovered.
	SourcesFound int

	// Summaries counts summary files produced or reused.
	Summaries int

	// Errors counts item failures across all stages.
	Errors int
}

// Driver runs the pipeline.
type Driver struct {
	cfg    Config
	collab Collaborators
	ck     *checkpoint.Manager
	rep    report.Writer
	logger *zap.Logger

	itemErrors int
}

// New creates a Driver. A nil report writer discards records; a nil
// logger is replaced with a no-op logger.
func New(cfg Config, collab Collaborators, rep report.Writer, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rep == nil {
		rep = report.Nop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Driver{
		cfg:    cfg,
		collab: collab,
		ck:     checkpoint.New(cfg.OutputRoot, logger),
		rep:    rep,
		logger: logger,
	}
}

// Run executes the pipeline from the persisted checkpoint to the end.
//
// It returns a Result for complete and degraded runs. A stage whose
// items all failed aborts the run with a TotalFailureError; the
// checkpoint keeps its pre-stage value so the next run retries.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	start := d.cfg.Now()

	if d.cfg.Fresh {
		d.logger.Info("Fresh run requested, resetting checkpoint")
		if err := d.ck.Write(0); err != nil {
			return nil, fmt.Errorf("reset checkpoint: %w", err)
		}
	}

	step := d.ck.Read()
	if step >= StepSummarize {
		d.logger.Info("Previous run already complete", zap.Int("checkpoint", step))
	}

	workDir, err := d.resolveWorkDir(&step)
	if err != nil {
		return nil, err
	}
	store := manifest.NewStore(workDir)
	res := &Result{WorkDir: workDir}

	d.logger.Info("Pipeline starting",
		zap.Int("checkpoint", step),
		zap.String("work_dir", workDir),
		zap.Bool("audio_only", d.cfg.AudioOnly))

	// Stage 1: discover.
	sources, err := runStage(ctx, d, step, StepDiscover, StageDiscover, store, manifest.SourcesFile,
		func(ctx context.Context) (*stage.Result[manifest.SourceRecord], error) {
			found, err := d.collab.Discover(ctx)
			if err != nil {
				return nil, err
			}
			r := &stage.Result[manifest.SourceRecord]{Succeeded: len(found)}
			for _, s := range found {
				r.Outcomes = append(r.Outcomes, stage.Success(s))
			}
			return r, nil
		})
	if err != nil {
		return d.finish(ctx, res, start, err)
	}
	res.SourcesFound = len(sources)
	if len(sources) == 0 {
		d.logger.Info("No media files found")
		res.Status = report.StatusComplete
		return d.finish(ctx, res, start, nil)
	}

	// Stage 2: extract.
	audios, err := runStage(ctx, d, step, StepExtract, StageExtract, store, manifest.AudiosFile,
		func(ctx context.Context) (*stage.Result[manifest.AudioRecord], error) {
			if d.cfg.AudioOnly {
				return passThroughAudios(sources), nil
			}
			return stage.Run(ctx, sources, d.collab.Extract(workDir), d.cfg.Concurrency), nil
		})
	if err != nil {
		return d.finish(ctx, res, start, err)
	}

	// Stage 3: upload.
	uploads, err := runStage(ctx, d, step, StepUpload, StageUpload, store, manifest.UploadsFile,
		func(ctx context.Context) (*stage.Result[manifest.UploadRecord], error) {
			worker, err := d.collab.Upload()
			if err != nil {
				return nil, err
			}
			return stage.Run(ctx, audios, worker, d.cfg.Concurrency), nil
		})
	if err != nil {
		return d.finish(ctx, res, start, err)
	}

	// Stage 4: transcribe.
	transcripts, err := runStage(ctx, d, step, StepTranscribe, StageTranscribe, store, manifest.TranscriptsFile,
		func(ctx context.Context) (*stage.Result[manifest.TranscriptRecord], error) {
			worker, err := d.collab.Transcribe(workDir)
			if err != nil {
				return nil, err
			}
			return stage.Run(ctx, uploads, worker, d.cfg.Concurrency), nil
		})
	if err != nil {
		return d.finish(ctx, res, start, err)
	}

	// Stage 5: summarize.
	summaries, err := runStage(ctx, d, step, StepSummarize, StageSummarize, store, manifest.SummariesFile,
		func(ctx context.Context) (*stage.Result[manifest.SummaryRecord], error) {
			worker, err := d.collab.Summarize()
			if err != nil {
				return nil, err
			}
			return stage.Run(ctx, transcripts, worker, d.cfg.Concurrency), nil
		})
	if err != nil {
		return d.finish(ctx, res, start, err)
	}

	res.Summaries = len(summaries)
	res.Status = report.StatusComplete
	return d.finish(ctx, res, start, nil)
}

// finish classifies the run outcome, emits the final report record, and
// normalizes the returned error.
func (d *Driver) finish(ctx context.Context, res *Result, start time.Time, err error) (*Result, error) {
	res.Errors = d.itemErrors

	switch {
	case err == nil:
		if res.Status == "" {
			res.Status = report.StatusComplete
		}
	case errors.Is(err, ErrMissingCredentials):
		res.Status = report.StatusDegraded
		d.logger.Warn("Stopping early, results so far are preserved", zap.Error(err))
		// The run is terminal: the next invocation must not retry
		// stages whose credentials are still absent.
		if werr := d.ck.Write(StepSummarize); werr != nil {
			d.logger.Warn("Failed to persist checkpoint", zap.Error(werr))
		}
		err = nil
	default:
		res.Status = report.StatusAborted
	}

	elapsed := d.cfg.Now().Sub(start)
	_ = d.rep.WriteRun(ctx, &report.RunRecord{
		Status:        res.Status,
		SourcesFound:  res.SourcesFound,
		Summaries:     res.Summaries,
		Errors:        res.Errors,
		Duration:      elapsed,
		DurationHuman: elapsed.Round(time.Millisecond).String(),
		WorkDir:       res.WorkDir,
	})

	if err != nil {
		return res, err
	}
	d.logger.Info("Pipeline finished",
		zap.String("status", res.Status),
		zap.Int("summaries", res.Summaries),
		zap.Int("errors", res.Errors))
	return res, nil
}

// runStage executes one stage or, when the checkpoint already covers
// it, reloads its persisted manifest. On success the manifest is saved
// and the checkpoint advanced. A stage where every unskipped item
// failed returns a TotalFailureError without advancing the checkpoint.
func runStage[O any](
	ctx context.Context,
	d *Driver,
	checkpointStep, step int,
	name string,
	st *manifest.Store,
	fileName string,
	run func(ctx context.Context) (*stage.Result[O], error),
) ([]O, error) {
	logger := d.logger.With(zap.String("stage", name))

	if checkpointStep >= step {
		records, err := manifest.Load[O](st.Path(fileName))
		if err == nil {
			logger.Info("Stage already complete, loaded manifest",
				zap.Int("records", len(records)))
			_ = d.rep.WriteStage(ctx, &report.StageRecord{
				Stage:     name,
				Step:      step,
				Resumed:   true,
				Succeeded: len(records),
			})
			return records, nil
		}
		// Checkpoint says done but the manifest is unreadable. Re-run
		// the stage rather than fail the whole pipeline.
		logger.Warn("Stage manifest unreadable, re-running stage", zap.Error(err))
	}

	logger.Info("Stage starting", zap.Int("step", step))
	stageStart := d.cfg.Now()

	result, err := run(ctx)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", name, err)
	}

	for _, out := range result.Outcomes {
		if out.Status != stage.StatusFailure {
			continue
		}
		d.itemErrors++
		logger.Warn("Item failed", zap.Error(out.Err))
		_ = d.rep.WriteItemError(ctx, &report.ItemErrorRecord{
			Stage:   name,
			Message: out.Err.Error(),
		})
	}

	elapsed := d.cfg.Now().Sub(stageStart)
	_ = d.rep.WriteStage(ctx, &report.StageRecord{
		Stage:         name,
		Step:          step,
		Succeeded:     result.Succeeded,
		Failed:        result.Failed,
		Skipped:       result.Skipped,
		Duration:      elapsed,
		DurationHuman: elapsed.Round(time.Millisecond).String(),
	})

	if result.TotalFailure() {
		return nil, &TotalFailureError{Stage: name, Failed: result.Failed}
	}

	records := result.Compact()
	if err := manifest.Save(st.Path(fileName), records); err != nil {
		return nil, fmt.Errorf("stage %s: save manifest: %w", name, err)
	}
	// The checkpoint never decreases within a run. Re-running an earlier
	// stage whose manifest was lost must not discard later progress.
	if step > checkpointStep {
		if err := d.ck.Write(step); err != nil {
			return nil, fmt.Errorf("stage %s: persist checkpoint: %w", name, err)
		}
	}

	logger.Info("Stage complete",
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Duration("elapsed", elapsed))
	return records, nil
}

// passThroughAudios maps sources straight to audio records without
// touching ffmpeg. Used in audio-only mode where every source already
// is an audio file.
func passThroughAudios(sources []manifest.SourceRecord) *stage.Result[manifest.AudioRecord] {
	r := &stage.Result[manifest.AudioRecord]{Skipped: len(sources)}
	for _, s := range sources {
		r.Outcomes = append(r.Outcomes, stage.Skipped(manifest.AudioRecord{
			Ordinal:     s.Ordinal,
			Path:        s.Path,
			PassThrough: true,
			SizeBytes:   s.SizeBytes,
		}))
	}
	return r
}

// resolveWorkDir picks the working directory for this run.
//
// A fresh run (checkpoint zero) creates a new timestamped directory
// under <output root>/intermediates. A resuming run reuses the most
// recent existing one; when none survives, the checkpoint is reset and
// the run starts over in a new directory.
func (d *Driver) resolveWorkDir(step *int) (string, error) {
	base := filepath.Join(d.cfg.OutputRoot, IntermediatesDirName)

	if *step > 0 {
		latest, err := latestWorkDir(base)
		if err == nil {
			d.logger.Info("Resuming in existing working directory", zap.String("work_dir", latest))
			return latest, nil
		}
		d.logger.Error("No working directory found for checkpoint, starting over",
			zap.Int("checkpoint", *step), zap.Error(err))
		*step = 0
		if werr := d.ck.Write(0); werr != nil {
			return "", fmt.Errorf("reset checkpoint: %w", werr)
		}
	}

	dir := filepath.Join(base, d.cfg.Now().Format(workDirTimeFormat))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create working directory: %w", err)
	}
	// Establish the checkpoint file alongside the new working
	// directory so a run interrupted before its first stage still
	// leaves a readable zero.
	if err := d.ck.Write(0); err != nil {
		return "", fmt.Errorf("initialize checkpoint: %w", err)
	}
	return dir, nil
}

// latestWorkDir returns the newest timestamped directory under base.
func latestWorkDir(base string) (string, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && workDirPattern.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no working directories under %s", base)
	}
	sort.Strings(names)
	return filepath.Join(base, names[len(names)-1]), nil
}
