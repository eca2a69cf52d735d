package sequencer

import (
	"time"

	"github.com/roach88/bledfu/internal/device"
)

// Result is what a caller receives for a session. It is a value: phase
// failures are reported here, never as an error from Run.
type Result struct {
	SessionID string
	Pairing   device.Pairing
	Package   device.Package
	State     State

	// FailedPhase and Failure are set when State is Failed.
	FailedPhase Phase
	Failure     *FailureError

	// Outcomes is the full phase history in order.
	Outcomes []PhaseOutcome

	// FirmwareWritten is true once the transfer collaborator reported
	// success, including sessions that failed afterwards.
	FirmwareWritten bool

	// Before and After hold what the application identity reported during
	// pre-check and post-check, when it was reached.
	Before *device.Metadata
	After  *device.Metadata

	StartedAt time.Time
	Elapsed   time.Duration
}

// Succeeded reports whether the session ended in StateSucceeded.
func (r *Result) Succeeded() bool {
	return r.State == StateSucceeded
}

// Cause returns the failure code, or "" on success.
func (r *Result) Cause() FailureCode {
	if r.Failure == nil {
		return ""
	}
	return r.Failure.Code
}

// Ambiguous reports a failed session that may nevertheless have written
// the new firmware. An operator has to decide what happened.
func (r *Result) Ambiguous() bool {
	return r.State == StateFailed && r.FirmwareWritten
}

// Retryable reports whether a new session may be started.
func (r *Result) Retryable() bool {
	return r.Failure != nil && r.Failure.Retryable()
}

// Err returns the failure as an error, or nil on success.
func (r *Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// Outcome returns the recorded outcome of p, if any.
func (r *Result) Outcome(p Phase) (PhaseOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Phase == p {
			return o, true
		}
	}
	return PhaseOutcome{}, false
}
