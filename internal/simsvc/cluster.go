// Package simsvc implements a small in-process simulation of the job
// API, used by the sim command and by integration tests.
//
// Jobs follow scripted lifecycles: each job is created with a start
// delay, a run duration, and a final exit code, and its reported
// status is derived from the wall clock on every request. Log lines
// are spread evenly across the scripted run so followers see output
// appear over time.
package simsvc

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/statorlabs/beaker-go/pkg/api"
)

// JobSpec scripts one simulated job.
type JobSpec struct {
	// ID is the job's handle. Required and unique.
	ID string

	// Name is the display name.
	Name string

	// Experiment, Cluster, and Node set listing dimensions.
	Experiment string
	Cluster    string
	Node       string

	// StartAfter is the scheduling delay before the job starts.
	StartAfter time.Duration

	// RunFor is how long the job runs after starting.
	RunFor time.Duration

	// ExitCode is the final exit code when the run completes.
	ExitCode int

	// Fail marks the run as failed regardless of exit code.
	Fail bool

	// LogLines are emitted at evenly spaced timestamps across the run.
	LogLines []string
}

type logEntry struct {
	ts  time.Time
	msg string
}

type simJob struct {
	spec    JobSpec
	created time.Time
	logs    []logEntry

	// set by a stop request
	canceledAt   *time.Time
	canceledCode api.CanceledCode
	canceledFor  string
}

// Cluster is the in-memory job store behind the simulated API.
// All methods are safe for concurrent use.
type Cluster struct {
	mu   sync.Mutex
	jobs map[string]*simJob
	now  func() time.Time
}

// NewCluster creates an empty cluster using the wall clock.
func NewCluster() *Cluster {
	return &Cluster{
		jobs: make(map[string]*simJob),
		now:  time.Now,
	}
}

// AddJob registers a scripted job. The lifecycle clock starts now.
func (c *Cluster) AddJob(spec JobSpec) error {
	if spec.ID == "" {
		return fmt.Errorf("simsvc: job id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.jobs[spec.ID]; exists {
		return fmt.Errorf("simsvc: job %s already exists", spec.ID)
	}

	created := c.now()
	job := &simJob{spec: spec, created: created}

	// Spread log lines evenly across the scripted run.
	if n := len(spec.LogLines); n > 0 {
		start := created.Add(spec.StartAfter)
		step := spec.RunFor / time.Duration(n+1)
		for i, msg := range spec.LogLines {
			job.logs = append(job.logs, logEntry{
				ts:  start.Add(time.Duration(i+1) * step),
				msg: msg,
			})
		}
	}

	c.jobs[spec.ID] = job
	return nil
}

// Job returns the current snapshot of a job, or false if unknown.
func (c *Cluster) Job(id string) (api.Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok {
		return api.Job{}, false
	}
	return c.snapshot(job), true
}

// List returns snapshots of every job matching the given dimensions.
// Empty filter values match everything.
func (c *Cluster) List(experiment, cluster, node string) []api.Job {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []api.Job
	for _, job := range c.jobs {
		if experiment != "" && job.spec.Experiment != experiment {
			continue
		}
		if cluster != "" && job.spec.Cluster != cluster {
			continue
		}
		if node != "" && job.spec.Node != node {
			continue
		}
		out = append(out, c.snapshot(job))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stop cancels a job if it has not already finished. Stopping a
// finished job is a no-op, mirroring the real service.
func (c *Cluster) Stop(id string, code api.CanceledCode, reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok {
		return false
	}

	now := c.now()
	if job.canceledAt != nil || !now.Before(job.finishTime()) {
		return true
	}
	job.canceledAt = &now
	job.canceledCode = code
	job.canceledFor = reason
	return true
}

// Logs returns log lines visible at the current clock, strictly after
// since. When tail is positive, only the last tail visible lines are
// returned and since is ignored.
func (c *Cluster) Logs(id string, since time.Time, tail int) ([]logEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok {
		return nil, false
	}

	now := c.now()
	horizon := now
	if job.canceledAt != nil && job.canceledAt.Before(horizon) {
		horizon = *job.canceledAt
	}

	var visible []logEntry
	for _, entry := range job.logs {
		if entry.ts.After(horizon) {
			continue
		}
		if tail == 0 && !since.IsZero() && !entry.ts.After(since) {
			continue
		}
		visible = append(visible, entry)
	}
	if tail > 0 && len(visible) > tail {
		visible = visible[len(visible)-tail:]
	}
	return visible, true
}

func (j *simJob) finishTime() time.Time {
	return j.created.Add(j.spec.StartAfter + j.spec.RunFor)
}

// snapshot derives milestone timestamps from the clock. Callers must
// hold c.mu.
func (c *Cluster) snapshot(job *simJob) api.Job {
	now := c.now()
	spec := job.spec

	status := api.JobStatus{Created: job.created}
	scheduled := job.created
	status.Scheduled = &scheduled

	startAt := job.created.Add(spec.StartAfter)
	finishAt := job.finishTime()

	switch {
	case job.canceledAt != nil:
		if startAt.Before(*job.canceledAt) {
			started := startAt
			status.Started = &started
		}
		canceled := *job.canceledAt
		code := job.canceledCode
		status.Canceled = &canceled
		status.CanceledCode = &code
		status.CanceledFor = job.canceledFor
		status.Finalized = &canceled

	case !now.Before(finishAt):
		started := startAt
		exited := finishAt
		exitCode := spec.ExitCode
		status.Started = &started
		status.Exited = &exited
		status.ExitCode = &exitCode
		if spec.Fail {
			failed := finishAt
			status.Failed = &failed
		}
		status.Finalized = &exited

	case !now.Before(startAt):
		started := startAt
		status.Started = &started
	}

	return api.Job{
		ID:      spec.ID,
		Name:    spec.Name,
		Kind:    api.JobKindExecution,
		Cluster: spec.Cluster,
		Node:    spec.Node,
		Status:  status,
		Execution: &api.JobExecution{
			Experiment: spec.Experiment,
			Task:       spec.Name,
		},
	}
}
