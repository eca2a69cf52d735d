package sequencer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailureError_Retryable(t *testing.T) {
	tests := []struct {
		code      FailureCode
		retryable bool
	}{
		{CodePreCheckUnreachable, true},
		{CodeBootloaderNotReached, true},
		{CodeTransferFailed, false},
		{CodePostCheckUnreachable, false},
		{CodeCancelled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := &FailureError{Code: tt.code}
			assert.Equal(t, tt.retryable, err.Retryable())
			assert.Equal(t, tt.retryable, IsRetryable(fmt.Errorf("wrapped: %w", err)))
		})
	}
}

func TestFailureError_Message(t *testing.T) {
	err := &FailureError{Code: CodeTransferFailed, Phase: PhaseTransfer, Err: errors.New("crc mismatch")}
	assert.Equal(t, "transfer_failed in transfer: crc mismatch", err.Error())

	bare := &FailureError{Code: CodeCancelled, Phase: PhasePreCheck}
	assert.Equal(t, "cancelled in pre_check", bare.Error())
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("session: %w", &FailureError{Code: CodeCancelled, Err: context.Canceled})
	assert.Equal(t, CodeCancelled, CodeOf(err))
	assert.True(t, IsCancelled(err))
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, FailureCode(""), CodeOf(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}
