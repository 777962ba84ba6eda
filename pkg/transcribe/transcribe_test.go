package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediascribe/mediascribe/pkg/manifest"
	"github.com/mediascribe/mediascribe/pkg/stage"
)

// fakeASR simulates the asynchronous transcription API: one submit
// endpoint, a task endpoint that stays RUNNING for pendingPolls checks,
// and a transcript download endpoint.
type fakeASR struct {
	server       *httptest.Server
	pendingPolls int32
	polls        atomic.Int32
	submits      atomic.Int32
	taskStatus   string
	subtaskState string
	result       TranscriptionResult
	authSeen     atomic.Value
}

func newFakeASR(t *testing.T) *fakeASR {
	t.Helper()
	f := &fakeASR{
		taskStatus:   statusSucceeded,
		subtaskState: statusSucceeded,
		result: TranscriptionResult{
			Transcripts: []Transcript{{
				Sentences: []Sentence{
					{BeginTime: 0, SpeakerID: 0, Text: "hello"},
					{BeginTime: 1000, SpeakerID: 1, Text: "world"},
				},
			}},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/services/audio/asr/transcription", func(w http.ResponseWriter, r *http.Request) {
		f.submits.Add(1)
		f.authSeen.Store(r.Header.Get("Authorization"))
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Input.FileURLs) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeEnvelope(w, apiEnvelope{Output: taskOutput{TaskID: "task-1", TaskStatus: statusPending}})
	})
	mux.HandleFunc("/tasks/", func(w http.ResponseWriter, r *http.Request) {
		n := f.polls.Add(1)
		if n <= f.pendingPolls {
			writeEnvelope(w, apiEnvelope{Output: taskOutput{TaskID: "task-1", TaskStatus: statusRunning}})
			return
		}
		out := taskOutput{TaskID: "task-1", TaskStatus: f.taskStatus}
		if f.taskStatus == statusSucceeded {
			out.Results = []subtask{{
				FileURL:          "https://example.com/001.mp3",
				SubtaskStatus:    f.subtaskState,
				TranscriptionURL: f.server.URL + "/transcripts/task-1.json",
				Message:          "boom",
			}}
		} else {
			out.Message = "boom"
		}
		writeEnvelope(w, apiEnvelope{Output: out})
	})
	mux.HandleFunc("/transcripts/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(f.result)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func writeEnvelope(w http.ResponseWriter, env apiEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(env)
}

func newTestClient(t *testing.T, f *fakeASR, outputDir string) *Client {
	t.Helper()
	return New(Config{
		APIKey:       "test-key",
		BaseURL:      f.server.URL,
		OutputDir:    outputDir,
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  2 * time.Second,
	}, nil)
}

func TestTranscribeSuccess(t *testing.T) {
	f := newFakeASR(t)
	f.pendingPolls = 2
	client := newTestClient(t, f, t.TempDir())

	text, err := client.Transcribe(context.Background(), "https://example.com/001.mp3")
	require.NoError(t, err)
	assert.Equal(t, "1: hello\n2: world\n", text)
	assert.Equal(t, int32(1), f.submits.Load())
	assert.GreaterOrEqual(t, f.polls.Load(), int32(3))
	assert.Equal(t, "Bearer test-key", f.authSeen.Load())
}

func TestTranscribeTaskFailed(t *testing.T) {
	f := newFakeASR(t)
	f.taskStatus = statusFailed
	client := newTestClient(t, f, t.TempDir())

	_, err := client.Transcribe(context.Background(), "https://example.com/001.mp3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestTranscribeSubtaskFailed(t *testing.T) {
	f := newFakeASR(t)
	f.subtaskState = statusFailed
	client := newTestClient(t, f, t.TempDir())

	_, err := client.Transcribe(context.Background(), "https://example.com/001.mp3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subtask")
}

func TestTranscribePollTimeout(t *testing.T) {
	f := newFakeASR(t)
	f.pendingPolls = 1 << 30
	client := New(Config{
		APIKey:       "test-key",
		BaseURL:      f.server.URL,
		OutputDir:    t.TempDir(),
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  50 * time.Millisecond,
	}, nil)

	_, err := client.Transcribe(context.Background(), "https://example.com/001.mp3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not complete")
}

func TestWorkerWritesTranscriptFile(t *testing.T) {
	f := newFakeASR(t)
	dir := t.TempDir()
	client := newTestClient(t, f, dir)

	out := client.Worker()(context.Background(), 0, manifest.UploadRecord{
		Ordinal: 3,
		Key:     "audio_transcription/003.mp3",
		URL:     "https://example.com/003.mp3",
	})
	require.Equal(t, stage.StatusSuccess, out.Status)
	assert.Equal(t, filepath.Join(dir, "003.txt"), out.Value.Path)

	data, err := os.ReadFile(out.Value.Path)
	require.NoError(t, err)
	assert.Equal(t, "1: hello\n2: world\n", string(data))
}

func TestWorkerSkipsExistingTranscript(t *testing.T) {
	f := newFakeASR(t)
	dir := t.TempDir()
	existing := filepath.Join(dir, "002.txt")
	require.NoError(t, os.WriteFile(existing, []byte("1: already done\n"), 0644))
	client := newTestClient(t, f, dir)

	out := client.Worker()(context.Background(), 0, manifest.UploadRecord{
		Ordinal: 2,
		URL:     "https://example.com/002.mp3",
	})
	require.Equal(t, stage.StatusSkipped, out.Status)
	assert.Equal(t, existing, out.Value.Path)
	assert.Equal(t, int32(0), f.submits.Load(), "skip must not touch the API")
}

func TestWorkerReTranscribesEmptyFile(t *testing.T) {
	f := newFakeASR(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001.txt"), nil, 0644))
	client := newTestClient(t, f, dir)

	out := client.Worker()(context.Background(), 0, manifest.UploadRecord{
		Ordinal: 1,
		URL:     "https://example.com/001.mp3",
	})
	require.Equal(t, stage.StatusSuccess, out.Status)
	assert.Equal(t, int32(1), f.submits.Load())
}

func TestWorkerFailureOnAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := New(Config{
		APIKey:       "bad-key",
		BaseURL:      server.URL,
		OutputDir:    t.TempDir(),
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  time.Second,
	}, nil)

	out := client.Worker()(context.Background(), 0, manifest.UploadRecord{
		Ordinal: 1,
		URL:     "https://example.com/001.mp3",
	})
	require.Equal(t, stage.StatusFailure, out.Status)
	assert.Contains(t, out.Err.Error(), "001")
}

func TestFormatTranscriptOrdersByBeginTime(t *testing.T) {
	result := &TranscriptionResult{
		Transcripts: []Transcript{{
			Sentences: []Sentence{
				{BeginTime: 5000, SpeakerID: 1, Text: "second"},
				{BeginTime: 100, SpeakerID: 0, Text: "first"},
				{BeginTime: 9000, SpeakerID: 0, Text: "third"},
			},
		}},
	}
	assert.Equal(t, "1: first\n2: second\n1: third\n", FormatTranscript(result))
}

func TestFormatTranscriptMergesChannels(t *testing.T) {
	result := &TranscriptionResult{
		Transcripts: []Transcript{
			{ChannelID: 0, Sentences: []Sentence{{BeginTime: 2000, SpeakerID: 0, Text: "b"}}},
			{ChannelID: 1, Sentences: []Sentence{{BeginTime: 1000, SpeakerID: 1, Text: "a"}}},
		},
	}
	assert.Equal(t, "2: a\n1: b\n", FormatTranscript(result))
}

func TestFormatTranscriptSkipsEmptySentences(t *testing.T) {
	result := &TranscriptionResult{
		Transcripts: []Transcript{{
			Sentences: []Sentence{
				{BeginTime: 0, SpeakerID: 0, Text: "   "},
				{BeginTime: 100, SpeakerID: 0, Text: "kept"},
			},
		}},
	}
	assert.Equal(t, "1: kept\n", FormatTranscript(result))
}

func TestFormatTranscriptNil(t *testing.T) {
	assert.Equal(t, "", FormatTranscript(nil))
}

func TestTranscriptPath(t *testing.T) {
	client := New(Config{OutputDir: "/work/transcripts"}, nil)
	for i, want := range map[int]string{
		1:   "001.txt",
		42:  "042.txt",
		999: "999.txt",
	} {
		assert.Equal(t, filepath.Join("/work/transcripts", want), client.TranscriptPath(i),
			fmt.Sprintf("ordinal %d", i))
	}
}
