package api

import "time"

// LogLine is a single log line from a job.
//
// Lines are ordered by (Timestamp, position within batch) as emitted by
// the remote service; the client never resorts them.
type LogLine struct {
	// Timestamp is the server-side time the line was captured.
	Timestamp time.Time `json:"timestamp"`

	// Message is the raw line payload, without a trailing newline.
	Message []byte `json:"message"`

	// JobID identifies the job that produced the line.
	JobID string `json:"job_id,omitempty"`
}

// LogBatch is one fetch's worth of log lines.
type LogBatch struct {
	// Lines are ordered by non-decreasing timestamp within the batch.
	Lines []LogLine `json:"lines"`
}

// MaxTimestamp returns the largest timestamp in the batch, or the zero
// time for an empty batch. Batches are locally ordered, so this is the
// resume cursor after consuming the batch.
func (b *LogBatch) MaxTimestamp() time.Time {
	var max time.Time
	for _, l := range b.Lines {
		if l.Timestamp.After(max) {
			max = l.Timestamp
		}
	}
	return max
}

// LogsRequest selects which portion of a job's logs to fetch.
//
// At most one of Since and TailLines should be set. A zero request
// fetches from the start of the job.
type LogsRequest struct {
	// Since excludes lines with timestamps at or before this instant.
	// This is the resume cursor: pass the maximum timestamp observed so
	// far to continue without duplicates.
	Since time.Time

	// TailLines requests only the last N lines instead of a time range.
	TailLines int
}
