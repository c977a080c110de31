// Package output provides JSONL output for watch results.
//
// Output is structured as typed record envelopes containing job
// outcomes, log lines, and progress updates. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: beaker.<type>.v<version>
const (
	// TypeOutcome identifies per-job outcome records.
	TypeOutcome = "beaker.outcome.v1"

	// TypeLog identifies streamed log line records.
	TypeLog = "beaker.log.v1"

	// TypeError identifies error records.
	TypeError = "beaker.error.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "beaker.progress.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "beaker.summary.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "beaker.outcome.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// WatchID is the correlation ID for this watch invocation.
	WatchID string `json:"watch_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// OutcomeRecord is the data payload for per-job outcomes.
//
// One outcome record is emitted for every awaited job, in completion
// order.
type OutcomeRecord struct {
	// JobID identifies the job this outcome belongs to.
	JobID string `json:"job_id"`

	// Outcome names the terminal classification (e.g., "succeeded",
	// "failed", "canceled", "timed_out", "aborted").
	Outcome string `json:"outcome"`

	// ExitCode is the process exit code, when the job ran to exit.
	ExitCode *int `json:"exit_code,omitempty"`

	// CanceledCode names the cancellation cause, if canceled.
	CanceledCode string `json:"canceled_code,omitempty"`

	// CanceledFor is the server-provided cancellation reason.
	CanceledFor string `json:"canceled_for,omitempty"`

	// Message is a human-readable description of the outcome.
	Message string `json:"message,omitempty"`

	// Duration is how long the wait for this job took.
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// LogRecord is the data payload for streamed log lines.
type LogRecord struct {
	// JobID identifies the job that produced the line.
	JobID string `json:"job_id"`

	// Timestamp is the server-assigned time of the line.
	Timestamp time.Time `json:"timestamp"`

	// Message is the log line content without the trailing newline.
	Message string `json:"message"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the entire watch,
// allowing partial results when some jobs cannot be reached.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// JobID is the job related to this error, if applicable.
	JobID string `json:"job_id,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeUnauthorized indicates an authentication failure.
	ErrCodeUnauthorized = "UNAUTHORIZED"

	// ErrCodeNotFound indicates the job or experiment was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeTimeout indicates an operation timed out.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeUnavailable indicates the service could not be reached.
	ErrCodeUnavailable = "UNAVAILABLE"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// ProgressRecord is the data payload for progress updates.
//
// Progress records are emitted as jobs resolve to provide visibility
// into long-running waits.
type ProgressRecord struct {
	// Phase indicates the current watch phase.
	Phase string `json:"phase"`

	// JobsTotal is the number of jobs being awaited.
	JobsTotal int `json:"jobs_total"`

	// JobsResolved is the number of jobs that reached an outcome.
	JobsResolved int `json:"jobs_resolved"`

	// JobID is the job that just resolved, if applicable.
	JobID string `json:"job_id,omitempty"`
}

// Progress phase constants.
const (
	// PhaseStarting indicates the watch is initializing.
	PhaseStarting = "starting"

	// PhaseWaiting indicates jobs are being polled.
	PhaseWaiting = "waiting"

	// PhaseComplete indicates every job has resolved.
	PhaseComplete = "complete"
)

// SummaryRecord is the data payload for final summaries.
//
// A summary record is emitted at the end of a watch with aggregate
// counts per outcome.
type SummaryRecord struct {
	// JobsTotal is the number of jobs awaited.
	JobsTotal int `json:"jobs_total"`

	// Succeeded is the count of jobs that exited zero.
	Succeeded int `json:"succeeded"`

	// Failed is the count of jobs that failed.
	Failed int `json:"failed"`

	// Canceled is the count of jobs canceled before finishing.
	Canceled int `json:"canceled"`

	// TimedOut is the count of jobs whose wait hit its timeout.
	TimedOut int `json:"timed_out"`

	// Aborted is the count of waits cut short by fail-fast.
	Aborted int `json:"aborted"`

	// Errors is the count of transport errors encountered.
	Errors int `json:"errors"`

	// Duration is the total watch duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

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
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
