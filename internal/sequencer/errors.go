package sequencer

import (
	"errors"
	"fmt"
)

// FailureCode classifies why a session failed.
type FailureCode string

const (
	// CodePreCheckUnreachable: the application identity never answered.
	CodePreCheckUnreachable FailureCode = "pre_check_unreachable"

	// CodeBootloaderNotReached: the bootloader identity did not appear
	// within the wait budget.
	CodeBootloaderNotReached FailureCode = "bootloader_not_reached"

	// CodeTransferFailed: the transfer collaborator reported failure.
	CodeTransferFailed FailureCode = "transfer_failed"

	// CodePostCheckUnreachable: the device did not come back in
	// application mode after a successful transfer. The firmware may be
	// written.
	CodePostCheckUnreachable FailureCode = "post_check_unreachable"

	// CodeCancelled: the caller's context ended.
	CodeCancelled FailureCode = "cancelled"
)

// FailureError is the terminal failure of a session.
//
// It is carried in Result.Failure and never returned from Run; callers that
// prefer an error can use Result.Err.
type FailureError struct {
	Code  FailureCode
	Phase Phase

	// Err holds collaborator details (transfer error, last probe error,
	// context error). May be nil.
	Err error
}

// Error implements the error interface.
func (e *FailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s in %s: %v", e.Code, e.Phase, e.Err)
	}
	return fmt.Sprintf("%s in %s", e.Code, e.Phase)
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a fresh session may be started after this
// failure. Transfer and post-check failures leave the device in an unknown
// state and must be surfaced to an operator instead.
func (e *FailureError) Retryable() bool {
	return e.Code == CodePreCheckUnreachable || e.Code == CodeBootloaderNotReached
}

// CodeOf returns the failure code carried by err, or "" if err is not a
// FailureError. Uses errors.As to handle wrapped errors.
func CodeOf(err error) FailureCode {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsRetryable returns true if err is a retryable FailureError.
func IsRetryable(err error) bool {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}

// IsCancelled returns true if err is a FailureError for a cancelled session.
func IsCancelled(err error) bool {
	return CodeOf(err) == CodeCancelled
}

// errOutOfOrder is returned by Session when a phase is recorded out of order.
var errOutOfOrder = errors.New("phase out of order")
