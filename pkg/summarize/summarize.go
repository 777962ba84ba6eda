// Package summarize turns speaker-labelled transcripts into Markdown
// summaries with an OpenAI-compatible chat completion API.
package summarize

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/mediascribe/mediascribe/pkg/manifest"
	"github.com/mediascribe/mediascribe/pkg/stage"
)

const (
	// DefaultBaseURL targets the DeepSeek chat completion endpoint.
	DefaultBaseURL = "https://api.deepseek.com"

	// DefaultModel is the chat model used when none is configured.
	DefaultModel = "deepseek-chat"

	defaultTemperature = 0.3
	requestTimeout     = 5 * time.Minute
	maxAttempts        = 3

	// minSummaryBytes guards the skip-existing check: an existing
	// summary shorter than this is treated as a failed earlier attempt
	// and regenerated.
	minSummaryBytes = 32
)

const systemPrompt = `You are an assistant that summarizes meeting and interview transcripts.
The transcript lines are formatted as "<speaker number>: <text>".
Produce a well-structured Markdown summary with these sections:
- a short overview paragraph
- key discussion points as a bullet list
- decisions and action items, attributed to speaker numbers where possible
Answer in the same language the transcript is written in.`

// Config configures a Summarizer.
type Config struct {
	// APIKey authenticates with the chat API (required).
	APIKey string

	// BaseURL is the OpenAI-compatible API root. Default DefaultBaseURL.
	BaseURL string

	// Model selects the chat model. Default DefaultModel.
	Model string

	// OutputDir receives the NNN_summary.md files.
	OutputDir string

	// Temperature for generation. Zero means defaultTemperature.
	Temperature float64

	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// Summarizer generates one Markdown summary per transcript file.
type Summarizer struct {
	cfg    Config
	client openai.Client
	logger *zap.Logger
}

// New creates a Summarizer. A nil logger is replaced with a no-op logger.
func New(cfg Config, logger *zap.Logger) *Summarizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		// retry-go owns the retry policy
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	} else {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: requestTimeout}))
	}

	return &Summarizer{
		cfg:    cfg,
		client: openai.NewClient(opts...),
		logger: logger,
	}
}

// SummaryPath returns the summary file path for an item ordinal.
func (s *Summarizer) SummaryPath(ordinal int) string {
	return filepath.Join(s.cfg.OutputDir, fmt.Sprintf("%03d_summary.md", ordinal))
}

// Worker returns the stage worker function for one transcript record.
func (s *Summarizer) Worker() stage.WorkerFn[manifest.TranscriptRecord, manifest.SummaryRecord] {
	return func(ctx context.Context, idx int, tr manifest.TranscriptRecord) stage.Outcome[manifest.SummaryRecord] {
		return s.summarizeOne(ctx, tr)
	}
}

func (s *Summarizer) summarizeOne(ctx context.Context, tr manifest.TranscriptRecord) stage.Outcome[manifest.SummaryRecord] {
	outPath := s.SummaryPath(tr.Ordinal)

	if info, err := os.Stat(outPath); err == nil && info.Size() >= minSummaryBytes {
		s.logger.Debug("Summary exists, skipping", zap.String("path", outPath))
		return stage.Skipped(manifest.SummaryRecord{Ordinal: tr.Ordinal, Path: outPath})
	}

	transcript, err := os.ReadFile(tr.Path)
	if err != nil {
		return stage.Failure[manifest.SummaryRecord](fmt.Errorf("read transcript %s: %w", tr.Path, err))
	}
	if strings.TrimSpace(string(transcript)) == "" {
		return stage.Failure[manifest.SummaryRecord](fmt.Errorf("transcript %s is empty", tr.Path))
	}

	summary, err := s.Summarize(ctx, string(transcript))
	if err != nil {
		return stage.Failure[manifest.SummaryRecord](fmt.Errorf("summarize item %03d: %w", tr.Ordinal, err))
	}

	if err := writeFileAtomic(outPath, []byte(summary)); err != nil {
		return stage.Failure[manifest.SummaryRecord](fmt.Errorf("write summary %s: %w", outPath, err))
	}
	return stage.Success(manifest.SummaryRecord{Ordinal: tr.Ordinal, Path: outPath})
}

// Summarize generates a Markdown summary for one transcript, retrying
// transient API failures with exponential backoff.
func (s *Summarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	var summary string
	err := retry.Do(
		func() error {
			resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
				Model: openai.ChatModel(s.cfg.Model),
				Messages: []openai.ChatCompletionMessageParamUnion{
					openai.SystemMessage(systemPrompt),
					openai.UserMessage(transcript),
				},
				Temperature: openai.Float(s.cfg.Temperature),
			})
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}
			content := strings.TrimSpace(resp.Choices[0].Message.Content)
			if content == "" {
				return fmt.Errorf("completion returned empty content")
			}
			summary = content
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			s.logger.Warn("Summarization attempt failed",
				zap.Uint("attempt", attempt+1),
				zap.Error(err))
		}),
	)
	if err != nil {
		return "", err
	}
	return summary, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
