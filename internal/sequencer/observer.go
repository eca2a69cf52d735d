package sequencer

import (
	"sync"
	"time"

	"github.com/roach88/bledfu/internal/device"
)

// PhaseEvent reports one recorded phase outcome.
type PhaseEvent struct {
	SessionID string
	Pairing   device.Pairing
	Phase     Phase
	Outcome   PhaseOutcome

	// Elapsed is the phase's own duration.
	Elapsed time.Duration

	// State is the session state after the outcome was recorded.
	State State
}

// SessionInfo describes a session that has just started.
type SessionInfo struct {
	ID        string
	Pairing   device.Pairing
	Package   device.Package
	StartedAt time.Time
}

// Observer is notified of every phase outcome. Notifications are
// fire-and-forget: implementations should return quickly, and a panic is
// recovered and logged without affecting the session.
type Observer interface {
	OnPhase(PhaseEvent)
}

// SessionObserver additionally hears about session start and end.
type SessionObserver interface {
	Observer
	OnSessionStart(SessionInfo)
	OnSessionEnd(*Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(PhaseEvent)

func (f ObserverFunc) OnPhase(ev PhaseEvent) { f(ev) }

// Recorder is an Observer that keeps every event and result in memory.
// Read the fields only after the sessions it observes have finished.
type Recorder struct {
	mu      sync.Mutex
	Started []SessionInfo
	Events  []PhaseEvent
	Results []*Result
}

func (r *Recorder) OnSessionStart(info SessionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Started = append(r.Started, info)
}

func (r *Recorder) OnPhase(ev PhaseEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, ev)
}

func (r *Recorder) OnSessionEnd(res *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Results = append(r.Results, res)
}

var _ SessionObserver = (*Recorder)(nil)
