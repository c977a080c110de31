// Package await aggregates completion waits across many jobs.
//
// One poller goroutine runs per job, each with independent backoff and
// poll state; results are yielded in completion order, not submission
// order. One job's failure never silently drops another job's result:
// a caller awaiting N jobs always receives exactly N results.
package await

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/statorlabs/beaker-go/pkg/api"
	"github.com/statorlabs/beaker-go/pkg/logs"
	"github.com/statorlabs/beaker-go/pkg/outcome"
	"github.com/statorlabs/beaker-go/pkg/poll"
)

// Result pairs a job with its terminal outcome.
type Result struct {
	JobID   string
	Outcome outcome.Outcome
}

// LogSink receives interleaved log lines from all followed jobs.
// Implementations must be safe for concurrent use.
type LogSink interface {
	OnLine(line api.LogLine)
}

// Options controls an aggregation.
type Options struct {
	// FailFast cancels all remaining waits as soon as any job resolves
	// to a non-succeeded outcome. Jobs cut short this way are reported
	// with an Aborted marker rather than dropped.
	FailFast bool

	// Timeout bounds each job's wait. Zero waits indefinitely.
	Timeout time.Duration

	// Logs enables live log streaming for every job, delivering lines
	// to the sink while the jobs run. Requires the Aggregator to have
	// been built with a Follower.
	Logs LogSink
}

// Aggregator runs concurrent waits over sets of jobs. Safe for
// concurrent use; per-job state lives inside each call.
type Aggregator struct {
	poller   *poll.Poller
	follower *logs.Follower
}

// New builds an Aggregator. follower may be nil if log streaming is
// never requested.
func New(poller *poll.Poller, follower *logs.Follower) (*Aggregator, error) {
	if poller == nil {
		return nil, errors.New("await: poller is required")
	}
	return &Aggregator{poller: poller, follower: follower}, nil
}

// All waits for every job and returns exactly one Result per job, in
// completion order. Job-level failures (Failed, Canceled, TimedOut,
// StreamError) are outcomes inside the results, never errors; the
// returned error is non-nil only for invalid arguments or caller
// cancellation.
func (a *Aggregator) All(ctx context.Context, jobIDs []string, opts Options) ([]Result, error) {
	ch, err := a.Completed(ctx, jobIDs, opts)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(jobIDs))
	for res := range ch {
		results = append(results, res)
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// Completed starts one wait per job and returns a channel that yields
// results as jobs resolve. The channel closes after exactly len(jobIDs)
// results have been delivered.
func (a *Aggregator) Completed(ctx context.Context, jobIDs []string, opts Options) (<-chan Result, error) {
	if len(jobIDs) == 0 {
		return nil, errors.New("await: at least one job id is required")
	}
	seen := make(map[string]struct{}, len(jobIDs))
	for _, id := range jobIDs {
		if id == "" {
			return nil, errors.New("await: job id is required")
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("await: duplicate job id %q", id)
		}
		seen[id] = struct{}{}
	}
	if opts.Logs != nil && a.follower == nil {
		return nil, errors.New("await: log streaming requested without a follower")
	}

	jobCtx, cancelJobs := context.WithCancel(ctx)

	resolved := make(chan Result)
	var wg sync.WaitGroup
	for _, id := range jobIDs {
		wg.Add(1)
		go func(jobID string) {
			defer wg.Done()
			a.waitOne(ctx, jobCtx, jobID, opts, resolved)
		}(id)
	}
	go func() {
		wg.Wait()
		close(resolved)
	}()

	out := make(chan Result)
	go func() {
		defer close(out)
		defer cancelJobs()
		for res := range resolved {
			if opts.FailFast && !res.Outcome.Succeeded() && res.Outcome.Kind != outcome.KindAborted {
				// Triggering failure: stop everything else. The
				// remaining jobs will resolve as Aborted.
				cancelJobs()
			}
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// waitOne resolves a single job, translating caller-side cancellation
// into the Aborted marker so the result count stays exact.
func (a *Aggregator) waitOne(parent, jobCtx context.Context, jobID string, opts Options, resolved chan<- Result) {
	var stopLogs context.CancelFunc
	if opts.Logs != nil {
		logCtx, cancel := context.WithCancel(jobCtx)
		stopLogs = cancel
		session, err := a.follower.Follow(logCtx, jobID, logs.Options{})
		if err == nil {
			go forwardLines(session, opts.Logs)
		}
	}
	if stopLogs != nil {
		defer stopLogs()
	}

	out, err := a.poller.WaitFor(jobCtx, jobID, opts.Timeout)
	if err != nil {
		// Fail-fast cancellation lands here; genuine caller
		// cancellation does too, and the aggregate call reports it.
		out = outcome.Aborted()
	}
	select {
	case resolved <- Result{JobID: jobID, Outcome: out}:
	case <-parent.Done():
	}
}

func forwardLines(session *logs.Session, sink LogSink) {
	for line := range session.Lines() {
		sink.OnLine(line)
	}
}
