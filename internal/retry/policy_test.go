package retry

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr string
	}{
		{"fixed", Policy{MaxAttempts: 3, Interval: time.Second}, ""},
		{"timeout only", Policy{Interval: time.Second, OverallTimeout: 30 * time.Second}, ""},
		{"negative attempts", Policy{MaxAttempts: -1}, "max attempts"},
		{"unbounded", Policy{Interval: time.Second}, "unbounded attempts"},
		{"negative interval", Policy{MaxAttempts: 1, Interval: -time.Second}, "interval"},
		{"negative timeout", Policy{MaxAttempts: 1, AttemptTimeout: -time.Second}, "timeouts"},
		{"negative multiplier", Policy{MaxAttempts: 1, Multiplier: -2}, "multiplier"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPolicy)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPolicyDelay_Fixed(t *testing.T) {
	p := Policy{MaxAttempts: 5, Interval: 2 * time.Second}
	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, 2*time.Second, p.Delay(attempt))
	}
	assert.Equal(t, 2*time.Second, p.Delay(0))
}

func TestPolicyDelay_Backoff(t *testing.T) {
	p := Policy{MaxAttempts: 6, Interval: time.Second, Multiplier: 2, MaxInterval: 5 * time.Second}

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(4))
	assert.Equal(t, 5*time.Second, p.Delay(10))
}

func TestPolicyDelay_BackoffNeverOverflows(t *testing.T) {
	uncapped := Policy{MaxAttempts: 50, Interval: 2 * time.Second, Multiplier: 2}
	for _, attempt := range []int{33, 34, 40, 1000} {
		d := uncapped.Delay(attempt)
		assert.Positive(t, d, "attempt %d", attempt)
		assert.GreaterOrEqual(t, d, uncapped.Delay(attempt-1), "attempt %d", attempt)
	}
	assert.Equal(t, time.Duration(math.MaxInt64), uncapped.Delay(1000))

	budgeted := Policy{Interval: 2 * time.Second, Multiplier: 2, OverallTimeout: time.Minute}
	assert.Equal(t, 32*time.Second, budgeted.Delay(5))
	assert.Equal(t, time.Minute, budgeted.Delay(6))
	assert.Equal(t, time.Minute, budgeted.Delay(500))
}

func TestPolicyDelay_MaxIntervalCapsFixed(t *testing.T) {
	p := Policy{MaxAttempts: 2, Interval: 10 * time.Second, MaxInterval: 3 * time.Second}
	assert.Equal(t, 3*time.Second, p.Delay(1))
}

func TestPolicyWithTimeout(t *testing.T) {
	base := Policy{MaxAttempts: 3, Interval: time.Second}
	p := base.WithTimeout(time.Minute)
	assert.Equal(t, time.Minute, p.OverallTimeout)
	assert.Zero(t, base.OverallTimeout, "WithTimeout must not modify the receiver")
}

func TestPolicyString(t *testing.T) {
	p := Policy{MaxAttempts: 3, Interval: time.Second, OverallTimeout: time.Minute, Multiplier: 2}
	assert.Equal(t, "attempts=3 interval=1s timeout=1m0s backoff=x2", p.String())
}
