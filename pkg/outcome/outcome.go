// Package outcome maps terminal job statuses onto the client-side
// outcome taxonomy.
//
// A failed or canceled job is an expected, successfully observed result,
// not a client error; those conditions are outcome variants here rather
// than Go errors. Go errors are reserved for the client failing to
// observe the job at all.
package outcome

import (
	"fmt"

	"github.com/statorlabs/beaker-go/pkg/api"
)

// Kind is the outcome variant.
type Kind int

const (
	// KindUnknown is the zero value and never produced by Classify.
	KindUnknown Kind = iota

	// KindSucceeded: the job finalized with exit code 0.
	KindSucceeded

	// KindFailed: the job finalized with a non-zero exit code.
	KindFailed

	// KindCanceled: the job was canceled; branch on the code to tell
	// user-initiated cancellation from system preemption.
	KindCanceled

	// KindTimedOut: the caller's wait deadline elapsed before the job
	// finalized. The job itself may still be running.
	KindTimedOut

	// KindStreamError: the client could not observe the job (transport
	// exhaustion or a fatal protocol error).
	KindStreamError

	// KindAborted: a fail-fast aggregation was cut short before this
	// job's result was observed.
	KindAborted
)

func (k Kind) String() string {
	switch k {
	case KindSucceeded:
		return "succeeded"
	case KindFailed:
		return "failed"
	case KindCanceled:
		return "canceled"
	case KindTimedOut:
		return "timed_out"
	case KindStreamError:
		return "stream_error"
	case KindAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Outcome is the terminal value of one job's lifecycle within a single
// wait or aggregate invocation. Exactly one Outcome is produced per job
// per invocation.
type Outcome struct {
	Kind Kind

	// ExitCode is set for Succeeded and Failed.
	ExitCode int

	// Message carries the job's final message, when the service set one.
	Message string

	// CanceledCode and CanceledReason are set for Canceled.
	CanceledCode   api.CanceledCode
	CanceledReason string

	// Err is set for StreamError and carries the underlying cause.
	Err error
}

// Succeeded reports whether the job finalized with exit code 0.
func (o Outcome) Succeeded() bool {
	return o.Kind == KindSucceeded
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindSucceeded:
		return fmt.Sprintf("succeeded (exit code %d)", o.ExitCode)
	case KindFailed:
		if o.Message != "" {
			return fmt.Sprintf("failed (exit code %d): %s", o.ExitCode, o.Message)
		}
		return fmt.Sprintf("failed (exit code %d)", o.ExitCode)
	case KindCanceled:
		if o.CanceledReason != "" {
			return fmt.Sprintf("canceled (%s): %s", o.CanceledCode, o.CanceledReason)
		}
		return fmt.Sprintf("canceled (%s)", o.CanceledCode)
	case KindTimedOut:
		return "timed out"
	case KindStreamError:
		return fmt.Sprintf("stream error: %v", o.Err)
	case KindAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// TimedOut returns the outcome for an elapsed wait deadline.
func TimedOut() Outcome {
	return Outcome{Kind: KindTimedOut}
}

// Aborted returns the marker outcome for a job whose result was never
// observed because a fail-fast aggregation stopped early.
func Aborted() Outcome {
	return Outcome{Kind: KindAborted}
}

// StreamError wraps a client-communication failure as an outcome.
func StreamError(err error) Outcome {
	return Outcome{Kind: KindStreamError, Err: err}
}

// Classify maps a terminal status snapshot onto an Outcome.
//
// Classify is a pure function: it reads the snapshot and nothing else,
// so calling it twice on the same status yields identical outcomes.
// Cancellation always wins over the exit code, since a canceled
// container can surface an arbitrary code. Unknown cancellation codes
// classify as unspecified rather than failing; callers must tolerate
// vocabulary growth on the server side.
func Classify(status *api.JobStatus) Outcome {
	if status.Canceled != nil || status.CanceledCode != nil || status.CanceledFor != "" {
		code := api.CanceledCodeUnspecified
		if status.CanceledCode != nil && status.CanceledCode.Known() {
			code = *status.CanceledCode
		}
		return Outcome{
			Kind:           KindCanceled,
			CanceledCode:   code,
			CanceledReason: status.CanceledFor,
			Message:        status.Message,
		}
	}

	exitCode := 0
	if status.ExitCode != nil {
		exitCode = *status.ExitCode
	}
	if exitCode == 0 && status.Failed == nil {
		return Outcome{Kind: KindSucceeded, ExitCode: exitCode, Message: status.Message}
	}
	return Outcome{Kind: KindFailed, ExitCode: exitCode, Message: status.Message}
}
