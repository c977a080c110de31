// Package logs streams job log lines with cursor-based resumption.
//
// A follow session repeatedly fetches log batches through the
// retry-wrapped client, advancing a timestamp cursor past everything it
// has emitted. Reconnects resume from the cursor, so no line is ever
// emitted twice, and the session ends cleanly only after the job is
// terminal and a final fetch confirms nothing further is pending.
package logs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/statorlabs/beaker-go/pkg/api"
)

// Service is the slice of the API client the follower needs.
type Service interface {
	Job(ctx context.Context, jobID string) (*api.Job, error)
	JobLogs(ctx context.Context, jobID string, req api.LogsRequest) (*api.LogBatch, error)
}

// Observer is notified after each fetched batch. Progress reporting
// hangs off this; the follower works identically with a nil observer.
type Observer interface {
	OnBatch(jobID string, lines int)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(jobID string, lines int)

func (f ObserverFunc) OnBatch(jobID string, lines int) { f(jobID, lines) }

// Config holds the streaming tunables.
type Config struct {
	// PollInterval is the delay before re-fetching when the job is
	// still active but produced no new lines.
	PollInterval time.Duration
}

// DefaultConfig returns the standard streaming interval.
func DefaultConfig() Config {
	return Config{PollInterval: 2 * time.Second}
}

// Options selects where a follow session starts. The zero value starts
// from the beginning of the job's logs.
type Options struct {
	// Since starts the session after this instant.
	Since time.Time

	// TailLines starts the session at the last N lines instead of a
	// timestamp. Mutually exclusive with Since.
	TailLines int
}

// Follower creates follow sessions. Safe for concurrent use; every
// session owns its own cursor.
type Follower struct {
	svc Service
	cfg Config
	obs Observer
}

// New builds a Follower. obs may be nil.
func New(svc Service, cfg Config, obs Observer) (*Follower, error) {
	if svc == nil {
		return nil, errors.New("logs: service is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Follower{svc: svc, cfg: cfg, obs: obs}, nil
}

// Session is one live follow of a job's logs. Receive from Lines until
// it closes, then check Err for how the stream ended: nil means the job
// finalized and all lines were delivered.
type Session struct {
	lines chan api.LogLine
	err   error
}

// Lines returns the stream of log lines, in non-decreasing timestamp
// order. The channel closes when the stream ends for any reason.
func (s *Session) Lines() <-chan api.LogLine {
	return s.lines
}

// Err reports how the stream ended. Only valid after Lines has closed.
func (s *Session) Err() error {
	return s.err
}

// Follow starts streaming a job's logs. The session runs until the job
// finalizes, a fatal error occurs, or ctx is canceled; its connection
// state is torn down on every exit path.
func (f *Follower) Follow(ctx context.Context, jobID string, opts Options) (*Session, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("logs: job id is required")
	}
	if !opts.Since.IsZero() && opts.TailLines > 0 {
		return nil, fmt.Errorf("logs: since and tail lines are mutually exclusive")
	}

	s := &Session{lines: make(chan api.LogLine)}
	go func() {
		defer close(s.lines)
		s.err = f.run(ctx, jobID, opts, s.lines)
	}()
	return s, nil
}

// run drives the fetch loop. It returns nil on natural termination.
func (f *Follower) run(ctx context.Context, jobID string, opts Options, out chan<- api.LogLine) error {
	cursor := opts.Since
	first := true
	sawTerminal := false

	for {
		var req api.LogsRequest
		if first && opts.TailLines > 0 {
			req.TailLines = opts.TailLines
		} else {
			req.Since = cursor
		}
		first = false

		batch, err := f.svc.JobLogs(ctx, jobID, req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		// The cursor is authoritative across fetches: anything at or
		// before it was already emitted. Within a batch the cursor does
		// not move, so lines sharing a timestamp are all delivered.
		emitted := 0
		for _, line := range batch.Lines {
			if !cursor.IsZero() && !line.Timestamp.After(cursor) {
				continue
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return ctx.Err()
			}
			emitted++
		}
		if max := batch.MaxTimestamp(); max.After(cursor) {
			cursor = max
		}
		if f.obs != nil {
			f.obs.OnBatch(jobID, emitted)
		}

		if emitted > 0 {
			// More may be pending; fetch again without sleeping.
			continue
		}
		if sawTerminal {
			// Terminal status plus one empty confirming fetch: done.
			return nil
		}

		job, err := f.svc.Job(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if job.IsFinalized() {
			// One more fetch must confirm no lines raced the
			// finalization before the stream can end.
			sawTerminal = true
			continue
		}

		if err := sleep(ctx, f.cfg.PollInterval); err != nil {
			return err
		}
	}
}

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
