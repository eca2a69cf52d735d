package sequencer

import (
	"fmt"
	"time"

	"github.com/roach88/bledfu/internal/device"
)

// Session is one end-to-end update attempt. It is owned by the Sequencer
// that created it and is never reused: a retry starts a new Session.
//
// INVARIANTS:
//   - outcomes appear in Phases order, one per phase, never overwritten
//   - state is Succeeded only if all five outcomes are Ok
//   - once terminal, no further outcome is accepted
type Session struct {
	ID        string
	Pairing   device.Pairing
	Package   device.Package
	StartedAt time.Time

	state    State
	outcomes []PhaseOutcome
	failure  *FailureError

	// transferred is set once Transfer reported success.
	transferred bool

	before *device.Metadata
	after  *device.Metadata
}

func newSession(id string, pairing device.Pairing, pkg device.Package, now time.Time) *Session {
	return &Session{
		ID:        id,
		Pairing:   pairing,
		Package:   pkg,
		StartedAt: now,
		state:     StateIdle,
		outcomes:  make([]PhaseOutcome, 0, len(Phases)),
	}
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Outcomes returns a copy of the recorded outcomes.
func (s *Session) Outcomes() []PhaseOutcome {
	out := make([]PhaseOutcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

// expect checks that p is the phase that must be recorded next.
func (s *Session) expect(p Phase) error {
	i := p.index()
	if i < 0 {
		return fmt.Errorf("%w: unknown phase %q", errOutOfOrder, p)
	}
	if i != len(s.outcomes) {
		next := Phase("none")
		if len(s.outcomes) < len(Phases) {
			next = Phases[len(s.outcomes)]
		}
		return fmt.Errorf("%w: expected %s, got %s", errOutOfOrder, next, p)
	}
	return nil
}

// begin moves the session into the running state of p.
func (s *Session) begin(p Phase) error {
	if s.state.Terminal() {
		return fmt.Errorf("%w: session %s is %s", errOutOfOrder, s.ID, s.state)
	}
	if err := s.expect(p); err != nil {
		return err
	}
	s.state = p.State()
	return nil
}

// record appends the outcome of the running phase. A non-Ok outcome makes
// the session Failed.
func (s *Session) record(o PhaseOutcome) error {
	if s.state.Terminal() {
		return fmt.Errorf("%w: session %s is %s", errOutOfOrder, s.ID, s.state)
	}
	if err := s.expect(o.Phase); err != nil {
		return err
	}
	if o.Status == "" {
		return fmt.Errorf("phase %s recorded without status", o.Phase)
	}
	if !o.OK() && o.Cause == "" {
		return fmt.Errorf("phase %s failed without cause", o.Phase)
	}

	s.outcomes = append(s.outcomes, o)
	if !o.OK() {
		s.state = StateFailed
		s.failure = &FailureError{Code: o.Cause, Phase: o.Phase, Err: o.Err}
		return nil
	}

	s.state = o.Phase.State()
	return nil
}

// succeed marks the session Succeeded. It requires every phase Ok.
func (s *Session) succeed() error {
	if s.state.Terminal() {
		return fmt.Errorf("%w: session %s is %s", errOutOfOrder, s.ID, s.state)
	}
	if len(s.outcomes) != len(Phases) {
		return fmt.Errorf("%w: %d of %d phases recorded", errOutOfOrder, len(s.outcomes), len(Phases))
	}
	for _, o := range s.outcomes {
		if !o.OK() {
			return fmt.Errorf("%w: phase %s is %s", errOutOfOrder, o.Phase, o.Status)
		}
	}
	s.state = StateSucceeded
	return nil
}

// Result snapshots the session. It is meant to be called once the session
// is terminal.
func (s *Session) Result(now time.Time) *Result {
	r := &Result{
		SessionID:       s.ID,
		Pairing:         s.Pairing,
		Package:         s.Package,
		State:           s.state,
		Outcomes:        s.Outcomes(),
		FirmwareWritten: s.transferred,
		StartedAt:       s.StartedAt,
		Elapsed:         now.Sub(s.StartedAt),
		Before:          s.before,
		After:           s.after,
	}
	if s.failure != nil {
		f := *s.failure
		r.Failure = &f
		r.FailedPhase = f.Phase
	}
	return r
}
