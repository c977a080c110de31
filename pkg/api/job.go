// Package api defines the typed data model for the Beaker job API.
//
// Types here mirror the wire format of the remote service. Values are
// produced fresh on each fetch and are never mutated by the polling or
// streaming layers; callers may share them freely across goroutines.
package api

import (
	"encoding/json"
	"time"
)

// JobState is the lifecycle state of a remote job, derived from the
// timestamp fields of a JobStatus snapshot.
//
// NOTE: These values are part of the remote API vocabulary and must not
// be renumbered or renamed.
type JobState string

const (
	JobStateCreated   JobState = "created"
	JobStateScheduled JobState = "scheduled"
	JobStateRunning   JobState = "running"
	JobStateIdle      JobState = "idle"
	JobStateExited    JobState = "exited"
	JobStateFailed    JobState = "failed"
	JobStateFinalized JobState = "finalized"
	JobStateCanceled  JobState = "canceled"
	JobStatePreempted JobState = "preempted"
)

// CanceledCode identifies why a job was canceled.
//
// The remote service may introduce new codes at any time, so unknown
// values must be tolerated. Use Known to check whether a decoded code is
// part of the current vocabulary; unknown codes are preserved as-is and
// reported as CanceledCodeUnspecified by the outcome classifier.
type CanceledCode int

const (
	CanceledCodeUnspecified          CanceledCode = 0
	CanceledCodeSystemPreemption     CanceledCode = 1
	CanceledCodeUserPreemption       CanceledCode = 2
	CanceledCodeIdle                 CanceledCode = 3
	CanceledCodeManual               CanceledCode = 4
	CanceledCodeNodeUnavailable      CanceledCode = 5
	CanceledCodeTimeout              CanceledCode = 6
	CanceledCodeImpossibleToSchedule CanceledCode = 7
	CanceledCodeSiblingTaskFailed    CanceledCode = 8
	CanceledCodeSiblingTaskPreempted CanceledCode = 9
	CanceledCodeSiblingTaskRetried   CanceledCode = 10
	CanceledCodeHealthcheckFailed    CanceledCode = 11
)

// Known reports whether the code is part of the recognized vocabulary.
func (c CanceledCode) Known() bool {
	return c >= CanceledCodeUnspecified && c <= CanceledCodeHealthcheckFailed
}

// UserInitiated reports whether the cancellation was requested by a
// person rather than the system. Callers deciding "was this the user's
// fault" should branch on this, not on the outcome variant.
func (c CanceledCode) UserInitiated() bool {
	return c == CanceledCodeManual || c == CanceledCodeUserPreemption
}

func (c CanceledCode) String() string {
	switch c {
	case CanceledCodeSystemPreemption:
		return "system_preemption"
	case CanceledCodeUserPreemption:
		return "user_preemption"
	case CanceledCodeIdle:
		return "idle"
	case CanceledCodeManual:
		return "manual"
	case CanceledCodeNodeUnavailable:
		return "node_unavailable"
	case CanceledCodeTimeout:
		return "timeout"
	case CanceledCodeImpossibleToSchedule:
		return "impossible_to_schedule"
	case CanceledCodeSiblingTaskFailed:
		return "sibling_task_failed"
	case CanceledCodeSiblingTaskPreempted:
		return "sibling_task_preempted"
	case CanceledCodeSiblingTaskRetried:
		return "sibling_task_retried"
	case CanceledCodeHealthcheckFailed:
		return "healthcheck_failed"
	default:
		return "unspecified"
	}
}

// JobStatus is a point-in-time snapshot of a job's lifecycle.
//
// The remote service reports milestones as timestamps rather than a
// single state field; Current derives the state from whichever
// milestones are set. Snapshots are immutable: each poll produces a
// fresh value and the previous one is discarded.
type JobStatus struct {
	Created      time.Time     `json:"created"`
	Scheduled    *time.Time    `json:"scheduled,omitempty"`
	Started      *time.Time    `json:"started,omitempty"`
	Exited       *time.Time    `json:"exited,omitempty"`
	Failed       *time.Time    `json:"failed,omitempty"`
	Finalized    *time.Time    `json:"finalized,omitempty"`
	Canceled     *time.Time    `json:"canceled,omitempty"`
	IdleSince    *time.Time    `json:"idle_since,omitempty"`
	ExitCode     *int          `json:"exit_code,omitempty"`
	CanceledFor  string        `json:"canceled_for,omitempty"`
	CanceledCode *CanceledCode `json:"canceled_code,omitempty"`
	Message      string        `json:"message,omitempty"`
}

// UnmarshalJSON decodes a status snapshot, normalizing the zero-value
// timestamps (year 1) the service emits for unset milestones to nil.
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	type alias JobStatus
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw.Scheduled = normalizeTime(raw.Scheduled)
	raw.Started = normalizeTime(raw.Started)
	raw.Exited = normalizeTime(raw.Exited)
	raw.Failed = normalizeTime(raw.Failed)
	raw.Finalized = normalizeTime(raw.Finalized)
	raw.Canceled = normalizeTime(raw.Canceled)
	raw.IdleSince = normalizeTime(raw.IdleSince)
	*s = JobStatus(raw)
	return nil
}

func normalizeTime(t *time.Time) *time.Time {
	if t == nil || t.Year() == 1 {
		return nil
	}
	return t
}

// Current derives the job state from the milestone timestamps.
//
// Precedence follows the remote service's own rules: a finalized
// timestamp wins over everything else, so any state may appear to jump
// straight to finalized on abrupt termination.
func (s *JobStatus) Current() JobState {
	switch {
	case s.Finalized != nil:
		return JobStateFinalized
	case s.Failed != nil:
		return JobStateFailed
	case s.Exited != nil:
		return JobStateExited
	case s.Canceled != nil:
		if s.CanceledCode != nil &&
			(*s.CanceledCode == CanceledCodeSystemPreemption || *s.CanceledCode == CanceledCodeUserPreemption) {
			return JobStatePreempted
		}
		return JobStateCanceled
	case s.IdleSince != nil:
		return JobStateIdle
	case s.Started != nil:
		return JobStateRunning
	case s.Scheduled != nil:
		return JobStateScheduled
	default:
		return JobStateCreated
	}
}

// IsFinalized reports whether the snapshot is terminal. No further
// transitions occur once a job is finalized.
func (s *JobStatus) IsFinalized() bool {
	return s.Finalized != nil
}

// JobKind distinguishes batch executions from interactive sessions.
type JobKind string

const (
	JobKindExecution JobKind = "execution"
	JobKindSession   JobKind = "session"
)

// JobExecution ties a job back to the experiment and task it runs for.
type JobExecution struct {
	Experiment string `json:"experiment"`
	Task       string `json:"task"`
	Workspace  string `json:"workspace,omitempty"`
}

// Job is one scheduled unit of remote execution.
//
// The ID is the opaque handle used by the polling and streaming layers;
// they read it but never mutate the Job.
type Job struct {
	ID        string        `json:"id"`
	Name      string        `json:"name,omitempty"`
	Kind      JobKind       `json:"kind"`
	Workspace string        `json:"workspace,omitempty"`
	Cluster   string        `json:"cluster,omitempty"`
	Node      string        `json:"node,omitempty"`
	Status    JobStatus     `json:"status"`
	Execution *JobExecution `json:"execution,omitempty"`
}

// DisplayName returns the job's name, falling back to its ID.
func (j *Job) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	return j.ID
}

// IsFinalized reports whether the job has reached its terminal state.
func (j *Job) IsFinalized() bool {
	return j.Status.IsFinalized()
}

// JobPage is one page of a job listing.
type JobPage struct {
	Data []Job  `json:"data,omitempty"`
	Next string `json:"next,omitempty"`
}
