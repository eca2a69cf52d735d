package harness

import "github.com/roach88/bledfu/internal/sequencer"

// Trace event types.
const (
	EventCall         = "call"
	EventPhase        = "phase"
	EventSessionStart = "session_start"
	EventSessionEnd   = "session_end"
)

// TraceEvent is one entry of a scenario trace. At is the fake-clock time
// since the run started.
type TraceEvent struct {
	At       string `json:"at"`
	Type     string `json:"type"`
	Session  string `json:"session,omitempty"`
	Op       string `json:"op,omitempty"`
	Address  string `json:"address,omitempty"`
	Phase    string `json:"phase,omitempty"`
	Status   string `json:"status,omitempty"`
	Cause    string `json:"cause,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	Elapsed  string `json:"elapsed,omitempty"`
	Result   string `json:"result,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expectation held.
	Pass bool `json:"pass"`

	// Trace contains calls, phase outcomes and session boundaries in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Sessions holds every session result in order.
	Sessions []*sequencer.Result `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds an expectation failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Last returns the last session result, or nil.
func (r *Result) Last() *sequencer.Result {
	if len(r.Sessions) == 0 {
		return nil
	}
	return r.Sessions[len(r.Sessions)-1]
}
