package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statorlabs/beaker-go/pkg/api"
	"github.com/statorlabs/beaker-go/pkg/client"
	"github.com/statorlabs/beaker-go/pkg/match"
	"github.com/statorlabs/beaker-go/pkg/outcome"
	"github.com/statorlabs/beaker-go/pkg/output"
)

func TestFilterJobIDs(t *testing.T) {
	jobs := []api.Job{
		{ID: "j1", Name: "train-main"},
		{ID: "j2", Name: "train-ablation"},
		{ID: "j3", Name: "eval-heldout"},
		{ID: "j4"}, // unnamed, display name falls back to ID
	}

	matcher, err := match.New(match.Config{Includes: []string{"train-*"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"j1", "j2"}, filterJobIDs(jobs, matcher))

	matcher, err = match.New(match.Config{
		Includes: []string{"*"},
		Excludes: []string{"train-ablation"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"j1", "j3", "j4"}, filterJobIDs(jobs, matcher))
}

func TestExitCodeOf(t *testing.T) {
	code := exitCodeOf(outcome.Outcome{Kind: outcome.KindFailed, ExitCode: 2})
	require.NotNil(t, code)
	assert.Equal(t, 2, *code)

	assert.Nil(t, exitCodeOf(outcome.Outcome{Kind: outcome.KindCanceled}))
	assert.Nil(t, exitCodeOf(outcome.Outcome{Kind: outcome.KindTimedOut}))
}

func TestTallyOutcome(t *testing.T) {
	var summary output.SummaryRecord
	for _, kind := range []outcome.Kind{
		outcome.KindSucceeded, outcome.KindSucceeded,
		outcome.KindFailed,
		outcome.KindCanceled,
		outcome.KindTimedOut,
		outcome.KindAborted,
		outcome.KindStreamError,
	} {
		tallyOutcome(&summary, outcome.Outcome{Kind: kind})
	}

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Canceled)
	assert.Equal(t, 1, summary.TimedOut)
	assert.Equal(t, 1, summary.Aborted)
	assert.Equal(t, 1, summary.Errors)
}

func TestErrorCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unauthorized", fmt.Errorf("list: %w", client.ErrUnauthorized), output.ErrCodeUnauthorized},
		{"not found", fmt.Errorf("get: %w", client.ErrNotFound), output.ErrCodeNotFound},
		{"throttled", client.ErrThrottled, output.ErrCodeThrottled},
		{"unavailable", client.ErrUnavailable, output.ErrCodeUnavailable},
		{"deadline", context.DeadlineExceeded, output.ErrCodeTimeout},
		{"anything else", errors.New("boom"), output.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorCodeFor(tt.err))
		})
	}
}

func TestWriteAwaitError(t *testing.T) {
	var buf bytes.Buffer
	writer := output.NewJSONLWriter(&buf, "watch-1")

	cause := fmt.Errorf("beaker ListJobs: %w", client.ErrUnauthorized)
	writeAwaitError(context.Background(), writer, exitError(exitFailure, "Failed to list experiment jobs", cause))
	require.NoError(t, writer.Close())

	var rec output.Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, output.TypeError, rec.Type)
	assert.Equal(t, "watch-1", rec.WatchID)

	var payload output.ErrorRecord
	require.NoError(t, json.Unmarshal(rec.Data, &payload))
	assert.Equal(t, output.ErrCodeUnauthorized, payload.Code)
	assert.Contains(t, payload.Message, "unauthorized")
}

func TestWriteAwaitError_TextModeNoWriter(t *testing.T) {
	// Text mode passes a nil writer; the helper must be a no-op.
	writeAwaitError(context.Background(), nil, errors.New("boom"))
}

func TestCanceledCodeName(t *testing.T) {
	out := outcome.Outcome{
		Kind:         outcome.KindCanceled,
		CanceledCode: api.CanceledCodeUserPreemption,
	}
	assert.Equal(t, "user_preemption", canceledCodeName(out))
	assert.Empty(t, canceledCodeName(outcome.Outcome{Kind: outcome.KindFailed}))
}
