// Package report provides JSONL run reports for pipeline executions.
//
// Output is structured as typed record envelopes containing stage
// results, per-item errors, and a final run summary. Each line is a
// self-contained JSON object that can be parsed independently.
package report

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: mediascribe.<type>.v<version>
const (
	// TypeStage identifies per-stage result records.
	TypeStage = "mediascribe.stage.v1"

	// TypeItemError identifies per-item error records.
	TypeItemError = "mediascribe.item_error.v1"

	// TypeRun identifies final run summary records.
	TypeRun = "mediascribe.run.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line contains a Record with a type-specific payload in the Data
// field. The type field determines how to interpret the payload.
type Record struct {
	// Type identifies the record type (e.g., "mediascribe.stage.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for this pipeline run.
	RunID string `json:"run_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// StageRecord is the data payload for one completed stage.
type StageRecord struct {
	// Stage is the stage name (e.g., "extract").
	Stage string `json:"stage"`

	// Step is the stage's 1-based position in the pipeline.
	Step int `json:"step"`

	// Resumed is true when the stage was bypassed by the checkpoint.
	Resumed bool `json:"resumed,omitempty"`

	// Succeeded, Failed, and Skipped count per-item outcomes.
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	// Duration is the stage wall time.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// ItemErrorRecord is the data payload for a failed work item.
//
// Item errors are emitted as records rather than failing the run,
// so partial results survive when some items fail.
type ItemErrorRecord struct {
	// Stage is the stage where the failure occurred.
	Stage string `json:"stage"`

	// Ordinal is the item's 1-based pipeline ordinal, when known.
	Ordinal int `json:"ordinal,omitempty"`

	// Source is the item's source path or key, when known.
	Source string `json:"source,omitempty"`

	// Message is the failure description.
	Message string `json:"message"`
}

// RunRecord is the data payload emitted once at the end of a run.
type RunRecord struct {
	// Status is the final run status.
	Status string `json:"status"`

	// SourcesFound is the number of media files discovered.
	SourcesFound int `json:"sources_found"`

	// Summaries is the number of summary files produced in total,
	// including ones reused from earlier runs.
	Summaries int `json:"summaries"`

	// Errors is the count of item errors across all stages.
	Errors int `json:"errors"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// WorkDir is the intermediate working directory used by the run.
	WorkDir string `json:"work_dir,omitempty"`
}

// Run status constants for RunRecord.
const (
	// StatusComplete indicates the full pipeline ran to the end.
	StatusComplete = "complete"

	// StatusDegraded indicates the run stopped early at a stage that
	// lacked credentials, with earlier results intact.
	StatusDegraded = "degraded"

	// StatusAborted indicates a stage suffered total failure.
	StatusAborted = "aborted"
)

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "report: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
