package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceSnapshot_Marshal(t *testing.T) {
	snap := TraceSnapshot{
		ScenarioName: "tiny",
		Trace: []TraceEvent{
			{At: "0s", Type: EventSessionStart, Session: "s"},
			{At: "1s", Type: EventCall, Op: "probe", Address: "A", Result: "unreachable"},
		},
	}

	data, err := snap.Marshal()
	require.NoError(t, err)
	assert.Equal(t, `{
  "scenario_name": "tiny",
  "trace": [
    {
      "at": "0s",
      "type": "session_start",
      "session": "s"
    },
    {
      "at": "1s",
      "type": "call",
      "op": "probe",
      "address": "A",
      "result": "unreachable"
    }
  ]
}
`, string(data))
}

func TestResult_AddErrorAndLast(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	assert.Nil(t, r.Last())

	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{
		Field:    "state",
		Expected: "succeeded",
		Actual:   "failed",
		Trace: []TraceEvent{
			{At: "0s", Type: EventCall, Op: "probe", Address: "A", Result: "unreachable"},
			{At: "2s", Type: EventPhase, Phase: "pre_check", Status: "failed", Attempts: 3, Cause: "pre_check_unreachable"},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Expectation failed: state")
	assert.Contains(t, msg, "[1] 0s probe A -> unreachable")
	assert.Contains(t, msg, "[2] 2s pre_check failed attempts=3 cause=pre_check_unreachable")
}

func TestNormalizeDuration(t *testing.T) {
	assert.Equal(t, "1m0s", normalizeDuration("60s"))
	assert.Equal(t, "1.5s", normalizeDuration("1500ms"))
	assert.Equal(t, "soon", normalizeDuration("soon"))
}
