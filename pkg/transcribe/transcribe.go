// Package transcribe converts uploaded audio into speaker-labelled
// transcripts through an asynchronous speech-to-text HTTP API.
//
// The API contract (DashScope-compatible): submit a transcription task for
// one or more presigned file URLs, poll the task until it reaches a
// terminal status, then fetch each per-file transcript JSON from the URL
// the service returns. Transcripts are written to numbered text files,
// one line per sentence in time order, prefixed with the 1-based speaker
// id.
//
// Transcription is skip-existing: a non-empty transcript file for an
// item's ordinal is reused without touching the API.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mediascribe/mediascribe/pkg/manifest"
	"github.com/mediascribe/mediascribe/pkg/stage"
)

// Config configures a Client.
type Config struct {
	// APIKey authenticates requests (required).
	APIKey string

	// BaseURL is the API root. Default DefaultBaseURL.
	BaseURL string

	// Model is the ASR model name. Default "fun-asr".
	Model string

	// LanguageHints biases recognition. Default ["zh"].
	LanguageHints []string

	// OutputDir receives the numbered transcript files.
	OutputDir string

	// PollInterval is the delay between task status checks. Default 5s.
	PollInterval time.Duration

	// PollTimeout bounds the wait for one task. Default 30m.
	PollTimeout time.Duration

	// RateLimit is the maximum API requests per second. Zero disables
	// client-side pacing.
	RateLimit float64

	// HTTPClient overrides the transport (tests). Nil uses a default
	// client with a request timeout.
	HTTPClient *http.Client
}

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://dashscope.aliyuncs.com/api/v1"

const (
	defaultModel        = "fun-asr"
	defaultPollInterval = 5 * time.Second
	defaultPollTimeout  = 30 * time.Minute
	requestTimeout      = 60 * time.Second
	submitRetries       = 3
)

// Client drives the asynchronous transcription API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a Client. A nil logger is replaced with a no-op logger.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if len(cfg.LanguageHints) == 0 {
		cfg.LanguageHints = []string{"zh"}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, limiter: limiter, logger: logger}
}

// TranscriptPath returns the transcript file path for an item ordinal.
func (c *Client) TranscriptPath(ordinal int) string {
	return filepath.Join(c.cfg.OutputDir, fmt.Sprintf("%03d.txt", ordinal))
}

// Worker returns the stage worker function for one upload record.
func (c *Client) Worker() stage.WorkerFn[manifest.UploadRecord, manifest.TranscriptRecord] {
	return func(ctx context.Context, idx int, up manifest.UploadRecord) stage.Outcome[manifest.TranscriptRecord] {
		return c.transcribeOne(ctx, up)
	}
}

func (c *Client) transcribeOne(ctx context.Context, up manifest.UploadRecord) stage.Outcome[manifest.TranscriptRecord] {
	outPath := c.TranscriptPath(up.Ordinal)

	if info, err := os.Stat(outPath); err == nil && info.Size() > 0 {
		c.logger.Debug("Transcript exists, skipping", zap.String("path", outPath))
		return stage.Skipped(manifest.TranscriptRecord{Ordinal: up.Ordinal, Path: outPath})
	}

	text, err := c.Transcribe(ctx, up.URL)
	if err != nil {
		return stage.Failure[manifest.TranscriptRecord](fmt.Errorf("transcribe item %03d: %w", up.Ordinal, err))
	}
	if strings.TrimSpace(text) == "" {
		return stage.Failure[manifest.TranscriptRecord](fmt.Errorf("empty transcript for item %03d", up.Ordinal))
	}

	if err := writeFileAtomic(outPath, []byte(text)); err != nil {
		return stage.Failure[manifest.TranscriptRecord](fmt.Errorf("write transcript %s: %w", outPath, err))
	}
	return stage.Success(manifest.TranscriptRecord{Ordinal: up.Ordinal, Path: outPath})
}

// Transcribe submits one file URL, waits for the task, and returns the
// formatted speaker-labelled transcript text.
func (c *Client) Transcribe(ctx context.Context, fileURL string) (string, error) {
	taskID, err := c.submit(ctx, []string{fileURL})
	if err != nil {
		return "", err
	}

	task, err := c.waitForTask(ctx, taskID)
	if err != nil {
		return "", err
	}

	if len(task.Results) == 0 {
		return "", fmt.Errorf("task %s returned no results", taskID)
	}
	sub := task.Results[0]
	if sub.SubtaskStatus != statusSucceeded {
		return "", fmt.Errorf("task %s subtask status %s: %s", taskID, sub.SubtaskStatus, sub.Message)
	}

	raw, err := c.fetchTranscript(ctx, sub.TranscriptionURL)
	if err != nil {
		return "", err
	}
	return FormatTranscript(raw), nil
}

// Task statuses reported by the API.
const (
	statusPending   = "PENDING"
	statusRunning   = "RUNNING"
	statusSucceeded = "SUCCEEDED"
	statusFailed    = "FAILED"
)

type submitRequest struct {
	Model      string           `json:"model"`
	Input      submitInput      `json:"input"`
	Parameters submitParameters `json:"parameters"`
}

type submitInput struct {
	FileURLs []string `json:"file_urls"`
}

type submitParameters struct {
	LanguageHints      []string `json:"language_hints,omitempty"`
	DiarizationEnabled bool     `json:"diarization_enabled"`
}

type taskOutput struct {
	TaskID     string    `json:"task_id"`
	TaskStatus string    `json:"task_status"`
	Message    string    `json:"message,omitempty"`
	Results    []subtask `json:"results,omitempty"`
}

type subtask struct {
	FileURL          string `json:"file_url"`
	SubtaskStatus    string `json:"subtask_status"`
	TranscriptionURL string `json:"transcription_url"`
	Message          string `json:"message,omitempty"`
}

type apiEnvelope struct {
	Output taskOutput `json:"output"`
	Code   string     `json:"code,omitempty"`
	Msg    string     `json:"message,omitempty"`
}

// submit creates an asynchronous transcription task and returns its id.
// Transient submit failures are retried with exponential backoff.
func (c *Client) submit(ctx context.Context, fileURLs []string) (string, error) {
	body, err := json.Marshal(submitRequest{
		Model: c.cfg.Model,
		Input: submitInput{FileURLs: fileURLs},
		Parameters: submitParameters{
			LanguageHints:      c.cfg.LanguageHints,
			DiarizationEnabled: true,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}

	var taskID string
	err = retry.Do(
		func() error {
			env, err := c.doJSON(ctx, http.MethodPost, c.cfg.BaseURL+"/services/audio/asr/transcription", body)
			if err != nil {
				return err
			}
			if env.Output.TaskID == "" {
				return retry.Unrecoverable(fmt.Errorf("submit returned no task id: %s %s", env.Code, env.Msg))
			}
			taskID = env.Output.TaskID
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(submitRetries),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", fmt.Errorf("submit transcription task: %w", err)
	}
	return taskID, nil
}

// waitForTask polls the task until it reaches a terminal status.
func (c *Client) waitForTask(ctx context.Context, taskID string) (*taskOutput, error) {
	deadline := time.Now().Add(c.cfg.PollTimeout)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		env, err := c.doJSON(ctx, http.MethodGet, c.cfg.BaseURL+"/tasks/"+taskID, nil)
		if err == nil {
			switch env.Output.TaskStatus {
			case statusSucceeded:
				return &env.Output, nil
			case statusFailed:
				return nil, fmt.Errorf("task %s failed: %s", taskID, env.Output.Message)
			case statusPending, statusRunning, "":
				// keep polling
			default:
				return nil, fmt.Errorf("task %s unexpected status %s", taskID, env.Output.TaskStatus)
			}
		} else {
			// A transient poll error is not terminal; the next tick
			// retries.
			c.logger.Debug("Task poll failed", zap.String("task_id", taskID), zap.Error(err))
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("task %s did not complete within %s", taskID, c.cfg.PollTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// fetchTranscript downloads and decodes the per-file transcript JSON.
func (c *Client) fetchTranscript(ctx context.Context, url string) (*TranscriptionResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build transcript request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch transcript: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch transcript: unexpected status %d", resp.StatusCode)
	}

	var result TranscriptionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return &result, nil
}

// doJSON performs one authenticated API request and decodes the envelope.
func (c *Client) doJSON(ctx context.Context, method, url string, body []byte) (*apiEnvelope, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-DashScope-Async", "enable")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &env, nil
}

// writeFileAtomic writes data via temp file + rename so the skip-existing
// check never reuses a torn transcript.
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
