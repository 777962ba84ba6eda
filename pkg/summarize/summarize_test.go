package summarize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediascribe/mediascribe/pkg/manifest"
	"github.com/mediascribe/mediascribe/pkg/stage"
)

// fakeChatAPI serves an OpenAI-compatible chat completion endpoint. The
// first failures requests return HTTP 500 before it starts answering.
type fakeChatAPI struct {
	server   *httptest.Server
	failures int32
	calls    atomic.Int32
	content  string
	lastBody atomic.Value
}

func newFakeChatAPI(t *testing.T) *fakeChatAPI {
	t.Helper()
	f := &fakeChatAPI{content: "## Summary\n\nSpeaker 1 greeted speaker 2 and they discussed the roadmap."}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		n := f.calls.Add(1)
		raw := make(map[string]any)
		_ = json.NewDecoder(r.Body).Decode(&raw)
		f.lastBody.Store(raw)
		if n <= f.failures {
			http.Error(w, `{"error":{"message":"upstream busy"}}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": f.content},
			}},
		})
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func newTestSummarizer(t *testing.T, f *fakeChatAPI, outputDir string) *Summarizer {
	t.Helper()
	return New(Config{
		APIKey:    "test-key",
		BaseURL:   f.server.URL,
		Model:     "deepseek-chat",
		OutputDir: outputDir,
	}, nil)
}

func TestSummarizeSuccess(t *testing.T) {
	f := newFakeChatAPI(t)
	s := newTestSummarizer(t, f, t.TempDir())

	summary, err := s.Summarize(context.Background(), "1: hello\n2: hi there\n")
	require.NoError(t, err)
	assert.Contains(t, summary, "Summary")
	assert.Equal(t, int32(1), f.calls.Load())

	raw, ok := f.lastBody.Load().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "deepseek-chat", raw["model"])
	assert.InDelta(t, 0.3, raw["temperature"], 0.0001)
}

func TestSummarizeRetriesTransientFailures(t *testing.T) {
	f := newFakeChatAPI(t)
	f.failures = 2
	s := newTestSummarizer(t, f, t.TempDir())

	summary, err := s.Summarize(context.Background(), "1: hello\n")
	require.NoError(t, err)
	assert.NotEmpty(t, summary)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestSummarizeGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFakeChatAPI(t)
	f.failures = 100
	s := newTestSummarizer(t, f, t.TempDir())

	_, err := s.Summarize(context.Background(), "1: hello\n")
	require.Error(t, err)
	assert.Equal(t, int32(maxAttempts), f.calls.Load())
}

func TestWorkerWritesSummaryFile(t *testing.T) {
	f := newFakeChatAPI(t)
	dir := t.TempDir()
	transcriptPath := filepath.Join(dir, "001.txt")
	require.NoError(t, os.WriteFile(transcriptPath, []byte("1: hello\n2: hi\n"), 0644))

	s := newTestSummarizer(t, f, dir)
	out := s.Worker()(context.Background(), 0, manifest.TranscriptRecord{Ordinal: 1, Path: transcriptPath})
	require.Equal(t, stage.StatusSuccess, out.Status)
	assert.Equal(t, filepath.Join(dir, "001_summary.md"), out.Value.Path)

	data, err := os.ReadFile(out.Value.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Summary")
}

func TestWorkerSkipsExistingSummary(t *testing.T) {
	f := newFakeChatAPI(t)
	dir := t.TempDir()
	existing := filepath.Join(dir, "002_summary.md")
	content := strings.Repeat("previously generated summary text. ", 4)
	require.NoError(t, os.WriteFile(existing, []byte(content), 0644))

	s := newTestSummarizer(t, f, dir)
	out := s.Worker()(context.Background(), 0, manifest.TranscriptRecord{
		Ordinal: 2,
		Path:    filepath.Join(dir, "002.txt"),
	})
	require.Equal(t, stage.StatusSkipped, out.Status)
	assert.Equal(t, existing, out.Value.Path)
	assert.Equal(t, int32(0), f.calls.Load(), "skip must not touch the API")
}

func TestWorkerRegeneratesTinySummary(t *testing.T) {
	f := newFakeChatAPI(t)
	dir := t.TempDir()
	transcriptPath := filepath.Join(dir, "003.txt")
	require.NoError(t, os.WriteFile(transcriptPath, []byte("1: hello\n"), 0644))
	// A stub smaller than minSummaryBytes counts as a failed attempt.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "003_summary.md"), []byte("x"), 0644))

	s := newTestSummarizer(t, f, dir)
	out := s.Worker()(context.Background(), 0, manifest.TranscriptRecord{Ordinal: 3, Path: transcriptPath})
	require.Equal(t, stage.StatusSuccess, out.Status)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestWorkerFailsOnMissingTranscript(t *testing.T) {
	f := newFakeChatAPI(t)
	dir := t.TempDir()

	s := newTestSummarizer(t, f, dir)
	out := s.Worker()(context.Background(), 0, manifest.TranscriptRecord{
		Ordinal: 4,
		Path:    filepath.Join(dir, "004.txt"),
	})
	require.Equal(t, stage.StatusFailure, out.Status)
	assert.Contains(t, out.Err.Error(), "read transcript")
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestWorkerFailsOnEmptyTranscript(t *testing.T) {
	f := newFakeChatAPI(t)
	dir := t.TempDir()
	transcriptPath := filepath.Join(dir, "005.txt")
	require.NoError(t, os.WriteFile(transcriptPath, []byte("  \n"), 0644))

	s := newTestSummarizer(t, f, dir)
	out := s.Worker()(context.Background(), 0, manifest.TranscriptRecord{Ordinal: 5, Path: transcriptPath})
	require.Equal(t, stage.StatusFailure, out.Status)
	assert.Contains(t, out.Err.Error(), "empty")
}

func TestSummaryPath(t *testing.T) {
	s := New(Config{OutputDir: "/out"}, nil)
	assert.Equal(t, filepath.Join("/out", "007_summary.md"), s.SummaryPath(7))
	assert.Equal(t, filepath.Join("/out", "120_summary.md"), s.SummaryPath(120))
}
