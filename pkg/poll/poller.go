// Package poll implements blocking waits for remote jobs to reach
// their terminal state.
//
// A Poller repeatedly fetches a job's status through the retry-wrapped
// client until the job finalizes, the caller's deadline elapses, or the
// caller cancels. Each wait owns its own state; concurrent waits on the
// same job share nothing but the job ID.
package poll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/statorlabs/beaker-go/pkg/api"
	"github.com/statorlabs/beaker-go/pkg/outcome"
)

// StatusService is the slice of the API client the poller needs.
type StatusService interface {
	// Job fetches a fresh status snapshot. Implementations retry
	// transient failures internally; an error return is final.
	Job(ctx context.Context, jobID string) (*api.Job, error)
}

// Observer is notified on every successful status fetch. Observers
// decouple progress reporting from the polling control flow; the
// poller works identically with NopObserver.
type Observer interface {
	OnPoll(jobID string, status *api.JobStatus)
}

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) OnPoll(string, *api.JobStatus) {}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(jobID string, status *api.JobStatus)

func (f ObserverFunc) OnPoll(jobID string, status *api.JobStatus) { f(jobID, status) }

// Config holds the polling tunables. These come from the caller's
// config layer; the poller itself hardcodes nothing.
type Config struct {
	// Interval is the delay between status fetches. Cancellation
	// latency is bounded by one Interval.
	Interval time.Duration
}

// DefaultConfig returns the standard poll interval.
func DefaultConfig() Config {
	return Config{Interval: 2 * time.Second}
}

// Poller waits for jobs to finalize. Safe for concurrent use; each
// WaitFor call keeps its own per-job state.
type Poller struct {
	svc StatusService
	cfg Config
	obs Observer
}

// New builds a Poller. obs may be nil.
func New(svc StatusService, cfg Config, obs Observer) (*Poller, error) {
	if svc == nil {
		return nil, errors.New("poll: status service is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Poller{svc: svc, cfg: cfg, obs: obs}, nil
}

// WaitFor blocks until the job finalizes, then classifies its terminal
// status into an Outcome.
//
// A timeout of zero waits indefinitely (until ctx is canceled). Deadline
// expiry is not an error: it yields a TimedOut outcome. Transport
// exhaustion yields a StreamError outcome. The returned error is
// non-nil only for invalid arguments or caller cancellation.
//
// If the job is already terminal on the first fetch, WaitFor returns
// immediately without sleeping.
func (p *Poller) WaitFor(ctx context.Context, jobID string, timeout time.Duration) (outcome.Outcome, error) {
	if strings.TrimSpace(jobID) == "" {
		return outcome.Outcome{}, fmt.Errorf("poll: job id is required")
	}
	if timeout < 0 {
		return outcome.Outcome{}, fmt.Errorf("poll: timeout must not be negative, got %s", timeout)
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		job, err := p.svc.Job(waitCtx, jobID)
		if err != nil {
			if timedOut(ctx, waitCtx) {
				return outcome.TimedOut(), nil
			}
			if ctx.Err() != nil {
				return outcome.Outcome{}, ctx.Err()
			}
			return outcome.StreamError(err), nil
		}

		p.obs.OnPoll(jobID, &job.Status)

		if job.IsFinalized() {
			return outcome.Classify(&job.Status), nil
		}

		if err := sleep(waitCtx, p.cfg.Interval); err != nil {
			if timedOut(ctx, waitCtx) {
				return outcome.TimedOut(), nil
			}
			return outcome.Outcome{}, ctx.Err()
		}
	}
}

// timedOut reports whether the wait deadline elapsed, as opposed to the
// caller canceling the parent context.
func timedOut(parent, waitCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
