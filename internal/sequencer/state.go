package sequencer

import (
	"fmt"
	"time"
)

// State is the sequencer state of a session.
type State string

const (
	StateIdle               State = "idle"
	StatePreChecking        State = "pre_checking"
	StateSwitchingMode      State = "switching_mode"
	StateAwaitingBootloader State = "awaiting_bootloader"
	StateTransferring       State = "transferring"
	StatePostChecking       State = "post_checking"
	StateSucceeded          State = "succeeded"
	StateFailed             State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Phase names one step of a session.
type Phase string

const (
	PhasePreCheck       Phase = "pre_check"
	PhaseModeSwitch     Phase = "mode_switch"
	PhaseBootloaderWait Phase = "bootloader_wait"
	PhaseTransfer       Phase = "transfer"
	PhasePostCheck      Phase = "post_check"
)

// Phases lists every phase in execution order.
var Phases = []Phase{PhasePreCheck, PhaseModeSwitch, PhaseBootloaderWait, PhaseTransfer, PhasePostCheck}

// State returns the state a session is in while p runs.
func (p Phase) State() State {
	switch p {
	case PhasePreCheck:
		return StatePreChecking
	case PhaseModeSwitch:
		return StateSwitchingMode
	case PhaseBootloaderWait:
		return StateAwaitingBootloader
	case PhaseTransfer:
		return StateTransferring
	case PhasePostCheck:
		return StatePostChecking
	default:
		return StateIdle
	}
}

// index returns p's position in Phases, or -1.
func (p Phase) index() int {
	for i, q := range Phases {
		if q == p {
			return i
		}
	}
	return -1
}

// PhaseStatus tags a phase outcome.
type PhaseStatus string

const (
	StatusOK       PhaseStatus = "ok"
	StatusTimedOut PhaseStatus = "timed_out"
	StatusFailed   PhaseStatus = "failed"
)

// PhaseOutcome is the recorded result of one phase.
type PhaseOutcome struct {
	Phase  Phase       `json:"phase"`
	Status PhaseStatus `json:"status"`

	// Cause classifies a non-Ok outcome.
	Cause FailureCode `json:"cause,omitempty"`

	// Err carries collaborator details for a non-Ok outcome.
	Err error `json:"-"`

	// Detail is a short human readable note (probe snapshot, mode switch
	// acknowledgement).
	Detail string `json:"detail,omitempty"`

	Attempts int           `json:"attempts"`
	Elapsed  time.Duration `json:"elapsed"`
}

// OK reports whether the outcome lets the session advance.
func (o PhaseOutcome) OK() bool {
	return o.Status == StatusOK
}

func (o PhaseOutcome) String() string {
	s := fmt.Sprintf("%s: %s (attempts=%d, elapsed=%s)", o.Phase, o.Status, o.Attempts, o.Elapsed)
	if o.Cause != "" {
		s += " cause=" + string(o.Cause)
	}
	return s
}
