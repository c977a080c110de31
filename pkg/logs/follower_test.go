package logs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statorlabs/beaker-go/pkg/api"
)

var logStart = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func line(offset time.Duration, msg string) api.LogLine {
	return api.LogLine{Timestamp: logStart.Add(offset), Message: []byte(msg)}
}

// stubLogService serves scripted log batches and a switchable job
// status. Batches are consumed in order; once exhausted, fetches
// return empty batches.
type stubLogService struct {
	mu        sync.Mutex
	batches   [][]api.LogLine
	batchErrs []error
	finalized bool
	requests  []api.LogsRequest
}

func (s *stubLogService) Job(ctx context.Context, jobID string) (*api.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	status := api.JobStatus{Created: logStart}
	if s.finalized {
		done := logStart.Add(time.Minute)
		status.Finalized = &done
	} else {
		status.Started = &logStart
	}
	return &api.Job{ID: jobID, Status: status}, nil
}

func (s *stubLogService) JobLogs(ctx context.Context, jobID string, req api.LogsRequest) (*api.LogBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	if len(s.batchErrs) > 0 {
		err := s.batchErrs[0]
		s.batchErrs = s.batchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(s.batches) == 0 {
		return &api.LogBatch{}, nil
	}
	lines := s.batches[0]
	s.batches = s.batches[1:]
	return &api.LogBatch{Lines: lines}, nil
}

func (s *stubLogService) finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = true
}

func collect(t *testing.T, session *Session) ([]api.LogLine, error) {
	t.Helper()
	var lines []api.LogLine
	deadline := time.After(5 * time.Second)
	for {
		select {
		case l, ok := <-session.Lines():
			if !ok {
				return lines, session.Err()
			}
			lines = append(lines, l)
		case <-deadline:
			t.Fatal("session did not terminate")
		}
	}
}

func newFollower(t *testing.T, svc Service) *Follower {
	t.Helper()
	f, err := New(svc, Config{PollInterval: time.Millisecond}, nil)
	require.NoError(t, err)
	return f
}

func TestFollow_EmitsAllLinesThenTerminates(t *testing.T) {
	svc := &stubLogService{
		finalized: true,
		batches: [][]api.LogLine{
			{line(0, "one"), line(time.Second, "two")},
			{line(2*time.Second, "three")},
		},
	}
	f := newFollower(t, svc)

	session, err := f.Follow(context.Background(), "job-1", Options{})
	require.NoError(t, err)

	lines, err := collect(t, session)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "one", string(lines[0].Message))
	assert.Equal(t, "three", string(lines[2].Message))
}

func TestFollow_NoDuplicatesAcrossReconnect(t *testing.T) {
	// The second batch replays earlier lines, as a reconnecting server
	// might. Only genuinely new lines may be emitted, and the cursor
	// must never move backward.
	svc := &stubLogService{
		finalized: true,
		batches: [][]api.LogLine{
			{line(0, "a"), line(time.Second, "b")},
			{line(0, "a"), line(time.Second, "b"), line(2*time.Second, "c")},
		},
	}
	f := newFollower(t, svc)

	session, err := f.Follow(context.Background(), "job-1", Options{})
	require.NoError(t, err)

	lines, err := collect(t, session)
	require.NoError(t, err)
	require.Len(t, lines, 3)

	var prev time.Time
	seen := map[string]bool{}
	for _, l := range lines {
		assert.False(t, seen[string(l.Message)], "line %q re-emitted", l.Message)
		seen[string(l.Message)] = true
		assert.False(t, l.Timestamp.Before(prev), "timestamps must be non-decreasing")
		prev = l.Timestamp
	}
}

func TestFollow_EqualTimestampsWithinBatch(t *testing.T) {
	// Two lines in one batch may share a timestamp; the cursor only
	// advances between fetches, so both must be emitted.
	svc := &stubLogService{
		finalized: true,
		batches: [][]api.LogLine{
			{line(0, "first"), line(0, "second")},
			{line(0, "first"), line(0, "second"), line(time.Second, "third")},
		},
	}
	f := newFollower(t, svc)

	session, err := f.Follow(context.Background(), "job-1", Options{})
	require.NoError(t, err)

	lines, err := collect(t, session)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "first", string(lines[0].Message))
	assert.Equal(t, "second", string(lines[1].Message))
	assert.Equal(t, "third", string(lines[2].Message))

	// The next fetch resumes strictly after the shared timestamp.
	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.GreaterOrEqual(t, len(svc.requests), 2)
	assert.Equal(t, logStart, svc.requests[1].Since)
}

func TestFollow_ResumesFromCursor(t *testing.T) {
	svc := &stubLogService{
		finalized: true,
		batches: [][]api.LogLine{
			{line(0, "a")},
			{line(time.Second, "b")},
		},
	}
	f := newFollower(t, svc)

	session, err := f.Follow(context.Background(), "job-1", Options{Since: logStart.Add(-time.Hour)})
	require.NoError(t, err)

	lines, err := collect(t, session)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	// Every fetch after the first resumes from the last emitted
	// timestamp, never from zero.
	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.GreaterOrEqual(t, len(svc.requests), 2)
	assert.Equal(t, logStart, svc.requests[1].Since)
}

func TestFollow_FatalErrorEndsSession(t *testing.T) {
	cause := errors.New("beaker JobLogs: job-1: forbidden")
	svc := &stubLogService{
		batches:   [][]api.LogLine{{line(0, "a")}},
		batchErrs: []error{nil, cause},
	}
	f := newFollower(t, svc)

	session, err := f.Follow(context.Background(), "job-1", Options{})
	require.NoError(t, err)

	lines, err := collect(t, session)
	assert.Len(t, lines, 1)
	assert.ErrorIs(t, err, cause)
}

func TestFollow_DrainsLinesPendingAtFinalization(t *testing.T) {
	// The job finalizes while a last batch is still unfetched. The
	// confirming fetch after the terminal status must deliver it.
	svc := &stubLogService{
		batches: [][]api.LogLine{
			{line(0, "before")},
		},
	}
	f := newFollower(t, svc)

	session, err := f.Follow(context.Background(), "job-1", Options{})
	require.NoError(t, err)

	// Let the follower drain the first batch, then finalize with one
	// more batch pending.
	first := <-session.Lines()
	assert.Equal(t, "before", string(first.Message))

	svc.mu.Lock()
	svc.batches = append(svc.batches, []api.LogLine{line(time.Second, "last")})
	svc.finalized = true
	svc.mu.Unlock()

	lines, err := collect(t, session)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "last", string(lines[0].Message))
}

func TestFollow_TailLinesOnlyOnFirstFetch(t *testing.T) {
	svc := &stubLogService{
		finalized: true,
		batches: [][]api.LogLine{
			{line(0, "tail-1"), line(time.Second, "tail-2")},
		},
	}
	f := newFollower(t, svc)

	session, err := f.Follow(context.Background(), "job-1", Options{TailLines: 2})
	require.NoError(t, err)

	_, err = collect(t, session)
	require.NoError(t, err)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.GreaterOrEqual(t, len(svc.requests), 2)
	assert.Equal(t, 2, svc.requests[0].TailLines)
	for _, req := range svc.requests[1:] {
		assert.Zero(t, req.TailLines)
	}
}

func TestFollow_CancellationUnblocksSession(t *testing.T) {
	svc := &stubLogService{} // never finalizes, never produces lines
	f := newFollower(t, svc)

	ctx, cancel := context.WithCancel(context.Background())
	session, err := f.Follow(ctx, "job-1", Options{})
	require.NoError(t, err)

	cancel()
	lines, err := collect(t, session)
	assert.Empty(t, lines)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFollow_ArgumentValidation(t *testing.T) {
	f := newFollower(t, &stubLogService{})

	if _, err := f.Follow(context.Background(), "", Options{}); err == nil {
		t.Fatal("expected error for empty job id")
	}
	if _, err := f.Follow(context.Background(), "job-1", Options{Since: logStart, TailLines: 5}); err == nil {
		t.Fatal("expected error for since combined with tail lines")
	}
}
