package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/statorlabs/beaker-go/pkg/api"
)

// defaultMaxLineBytes bounds a single log line on the wire. Lines
// larger than this indicate a corrupt stream rather than real output.
const defaultMaxLineBytes = 1 << 20

// wireLogLine is the NDJSON representation of one log line.
type wireLogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// decodeLogStream reads an NDJSON body of log lines into a batch.
//
// Blank lines are tolerated. Any undecodable line aborts the batch:
// a truncated or interleaved body must not be silently dropped, since
// the follower's cursor would then skip past unread lines.
func decodeLogStream(r io.Reader, jobID string) (*api.LogBatch, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), defaultMaxLineBytes)

	batch := &api.LogBatch{}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var wire wireLogLine
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("decode log line %d: %w", lineNo, err)
		}
		batch.Lines = append(batch.Lines, api.LogLine{
			Timestamp: wire.Timestamp,
			Message:   []byte(wire.Message),
			JobID:     jobID,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log stream: %w", err)
	}
	return batch, nil
}
