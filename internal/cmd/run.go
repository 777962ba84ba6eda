package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mediascribe/mediascribe/internal/config"
	"github.com/mediascribe/mediascribe/internal/observability"
	"github.com/mediascribe/mediascribe/pkg/extract"
	"github.com/mediascribe/mediascribe/pkg/manifest"
	"github.com/mediascribe/mediascribe/pkg/pipeline"
	"github.com/mediascribe/mediascribe/pkg/provider/s3"
	"github.com/mediascribe/mediascribe/pkg/report"
	"github.com/mediascribe/mediascribe/pkg/scan"
	"github.com/mediascribe/mediascribe/pkg/stage"
	"github.com/mediascribe/mediascribe/pkg/summarize"
	"github.com/mediascribe/mediascribe/pkg/transcribe"
	"github.com/mediascribe/mediascribe/pkg/upload"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the summarization pipeline over a directory",
	Long: `Run the full pipeline: discover media files under the input
directory, extract audio, upload, transcribe, and write one Markdown
summary per file into the output directory.

Progress is checkpointed in the output directory. Re-running the same
command resumes after the last completed stage; use --fresh to discard
previous progress.

Example:
  mediascribe run --input ./recordings --output ./summaries
  mediascribe run -i ./recordings -o ./summaries --processes 8
  mediascribe run -i ./podcasts -o ./out --audio-only`,
	RunE: runRun,
}

var (
	runInput     string
	runOutput    string
	runConfig    string
	runProcesses int
	runAudioOnly bool
	runFresh     bool
	runIncludes  []string
	runExcludes  []string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "Directory containing media files (required)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Directory for summaries and intermediates (required)")
	runCmd.Flags().StringVarP(&runConfig, "config", "c", "", "Path to config file")
	runCmd.Flags().IntVarP(&runProcesses, "processes", "p", 0, "Worker count per stage (default from config)")
	runCmd.Flags().BoolVar(&runAudioOnly, "audio-only", false, "Treat inputs as audio, skip extraction")
	runCmd.Flags().BoolVar(&runFresh, "fresh", false, "Discard checkpoint and start over")
	runCmd.Flags().StringSliceVar(&runIncludes, "include", nil, "Glob patterns to include (relative to input)")
	runCmd.Flags().StringSliceVar(&runExcludes, "exclude", nil, "Glob patterns to exclude")

	_ = runCmd.MarkFlagRequired("input")
	_ = runCmd.MarkFlagRequired("output")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger

	cfg, err := config.Load(runConfig)
	if err != nil {
		logger.Error("Failed to load configuration", zap.Error(err))
		return exitError(ExitInvalidArgument, "Invalid configuration", err)
	}
	workers := cfg.Workers
	if runProcesses > 0 {
		workers = runProcesses
	}

	if err := os.MkdirAll(runOutput, 0755); err != nil {
		logger.Error("Failed to create output directory", zap.Error(err))
		return exitError(ExitFileWriteError, "Cannot create output directory", err)
	}

	runID := uuid.New().String()
	writer, cleanup, err := createReportWriter(runOutput, runID)
	if err != nil {
		logger.Error("Failed to create run report", zap.Error(err))
		return exitError(ExitFileWriteError, "Cannot create run report", err)
	}
	defer cleanup()

	driver := pipeline.New(pipeline.Config{
		OutputRoot:  runOutput,
		Concurrency: workers,
		AudioOnly:   runAudioOnly,
		Fresh:       runFresh,
	}, buildCollaborators(cfg, logger), writer, logger)

	logger.Info("Starting run",
		zap.String("run_id", runID),
		zap.String("input", runInput),
		zap.String("output", runOutput),
		zap.Int("workers", workers))

	res, err := driver.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("Run cancelled", zap.String("run_id", runID))
			return exitError(ExitSignalInt, "Run cancelled", err)
		}
		logger.Error("Run failed", zap.String("run_id", runID), zap.Error(err))
		return exitError(ExitServiceError, "Run failed", err)
	}

	logger.Info("Run finished",
		zap.String("run_id", runID),
		zap.String("status", res.Status),
		zap.Int("sources", res.SourcesFound),
		zap.Int("summaries", res.Summaries),
		zap.Int("errors", res.Errors))
	return nil
}

// buildCollaborators wires the per-stage workers from configuration.
func buildCollaborators(cfg *config.Config, logger *zap.Logger) pipeline.Collaborators {
	return pipeline.Collaborators{
		Discover: func(ctx context.Context) ([]manifest.SourceRecord, error) {
			return discoverSources(logger)
		},
		Extract: func(workDir string) stage.WorkerFn[manifest.SourceRecord, manifest.AudioRecord] {
			return extract.New(extract.Config{OutputDir: workDir}, nil, logger).Worker()
		},
		Upload: func() (stage.WorkerFn[manifest.AudioRecord, manifest.UploadRecord], error) {
			if !cfg.Storage.HasCredentials() {
				return nil, fmt.Errorf("object storage: %w", pipeline.ErrMissingCredentials)
			}
			store, err := s3.New(context.Background(), s3.Config{
				Bucket:          cfg.Storage.Bucket,
				Region:          cfg.Storage.Region,
				Endpoint:        cfg.Storage.Endpoint,
				Profile:         cfg.Storage.Profile,
				AccessKeyID:     cfg.Storage.AccessKeyID,
				SecretAccessKey: cfg.Storage.SecretAccessKey,
				ForcePathStyle:  cfg.Storage.ForcePathStyle || cfg.Storage.Endpoint != "",
			})
			if err != nil {
				return nil, fmt.Errorf("connect to object storage: %w", err)
			}
			return upload.New(store, upload.Config{
				KeyPrefix: cfg.Storage.KeyPrefix,
				URLTTL:    cfg.Storage.URLTTL,
			}, logger).Worker(), nil
		},
		Transcribe: func(workDir string) (stage.WorkerFn[manifest.UploadRecord, manifest.TranscriptRecord], error) {
			if !cfg.Transcribe.HasCredentials() {
				return nil, fmt.Errorf("transcription service: %w", pipeline.ErrMissingCredentials)
			}
			client := transcribe.New(transcribe.Config{
				APIKey:        cfg.Transcribe.APIKey,
				BaseURL:       cfg.Transcribe.BaseURL,
				Model:         cfg.Transcribe.Model,
				LanguageHints: cfg.Transcribe.LanguageHints,
				OutputDir:     filepath.Join(workDir, "transcripts"),
				PollInterval:  cfg.Transcribe.PollInterval,
				PollTimeout:   cfg.Transcribe.PollTimeout,
				RateLimit:     cfg.Transcribe.RateLimit,
			}, logger)
			return client.Worker(), nil
		},
		Summarize: func() (stage.WorkerFn[manifest.TranscriptRecord, manifest.SummaryRecord], error) {
			if !cfg.Summarize.HasCredentials() {
				return nil, fmt.Errorf("summarization service: %w", pipeline.ErrMissingCredentials)
			}
			s := summarize.New(summarize.Config{
				APIKey:      cfg.Summarize.APIKey,
				BaseURL:     cfg.Summarize.BaseURL,
				Model:       cfg.Summarize.Model,
				Temperature: cfg.Summarize.Temperature,
				OutputDir:   runOutput,
			}, logger)
			return s.Worker(), nil
		},
	}
}

// discoverSources scans the input directory and assigns stable 1-based
// ordinals in path order.
func discoverSources(logger *zap.Logger) ([]manifest.SourceRecord, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	scanner := scan.New(scan.Config{
		Includes: runIncludes,
		Excludes: runExcludes,
	}, logger)

	paths, err := scanner.Scan(runInput)
	if err != nil {
		return nil, err
	}

	var records []manifest.SourceRecord
	for _, path := range paths {
		if runAudioOnly && !scan.IsAudio(path) {
			logger.Debug("Skipping non-audio file in audio-only mode", zap.String("path", path))
			continue
		}
		var size int64
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
		records = append(records, manifest.SourceRecord{
			Ordinal:   len(records) + 1,
			Path:      path,
			SizeBytes: size,
		})
	}
	return records, nil
}

// createReportWriter opens <output>/report.jsonl for appending run
// records.
func createReportWriter(outputDir, runID string) (report.Writer, func(), error) {
	path := filepath.Join(outputDir, "report.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	w := report.NewJSONLWriter(f, runID)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}
