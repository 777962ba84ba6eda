// Package manifest reads and writes the ordered work-item lists passed
// between pipeline stages.
//
// One manifest file sits at each stage boundary inside the working
// directory. A manifest is a JSON array of records in discovery order;
// every record carries the item's ordinal, its 1-based position in the
// original discovery order, so output naming (001.mp3, 001.txt,
// 001_summary.md) is positional and stable across stages and re-runs.
//
// Manifests are immutable once written: a re-run of a stage rewrites its
// output manifest wholesale, never patches it. A stage's output may be
// shorter than its input (failed items are dropped) but is never reordered
// or duplicated.
package manifest

// SourceRecord is one discovered audio/video file (DISCOVER output).
type SourceRecord struct {
	// Ordinal is the 1-based position in discovery order.
	Ordinal int `json:"ordinal"`

	// Path is the absolute path of the source file.
	Path string `json:"path"`

	// SizeBytes is the source file size.
	SizeBytes int64 `json:"size_bytes,omitempty"`
}

// AudioRecord is one extracted (or passed-through) audio file
// (EXTRACT output).
type AudioRecord struct {
	Ordinal int `json:"ordinal"`

	// Path is the audio file path. For sources that were already audio
	// this is the source path itself and PassThrough is set.
	Path string `json:"path"`

	// PassThrough marks items that skipped extraction because the source
	// was already an audio file.
	PassThrough bool `json:"pass_through,omitempty"`

	SizeBytes   int64   `json:"size_bytes,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}

// UploadRecord is one uploaded object (UPLOAD output).
type UploadRecord struct {
	Ordinal int `json:"ordinal"`

	// Key is the object key in the bucket.
	Key string `json:"key"`

	// URL is a presigned GET URL usable by the transcription service.
	URL string `json:"url"`
}

// TranscriptRecord is one transcript file on disk (TRANSCRIBE output).
type TranscriptRecord struct {
	Ordinal int `json:"ordinal"`

	// Path is the local path of the speaker-labelled transcript.
	Path string `json:"path"`
}

// SummaryRecord is one summary file on disk (SUMMARIZE output).
type SummaryRecord struct {
	Ordinal int `json:"ordinal"`

	// Path is the local path of the Markdown summary.
	Path string `json:"path"`
}

// Manifest file names at each stage boundary.
const (
	SourcesFile     = "sources.json"
	AudiosFile      = "audios.json"
	UploadsFile     = "uploads.json"
	TranscriptsFile = "transcripts.json"
	SummariesFile   = "summaries.json"
)
