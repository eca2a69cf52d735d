package sequencer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/bledfu/internal/device"
	"github.com/roach88/bledfu/internal/retry"
)

// Sequencer runs update sessions for one pairing.
//
// Thread-safety model:
//   - Run() and RunAttempts() may be called from any goroutine, but calls
//     for the same pairing must not overlap; each call owns its session
//   - collaborators are called from the goroutine running the session
type Sequencer struct {
	cfg        Config
	prober     device.Prober
	switcher   device.ModeSwitcher
	transferer device.Transferer

	clock     retry.Clock
	logger    *slog.Logger
	observers []Observer
	ids       IDGenerator
}

// New creates a Sequencer. The configuration is validated here so that a
// session can never start from an invalid pairing or policy.
func New(cfg Config, prober device.Prober, switcher device.ModeSwitcher, transferer device.Transferer, opts ...Option) (*Sequencer, error) {
	if prober == nil || switcher == nil || transferer == nil {
		return nil, errors.New("prober, mode switcher and transferer are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sequencer config: %w", err)
	}

	s := &Sequencer{
		cfg:        cfg,
		prober:     prober,
		switcher:   switcher,
		transferer: transferer,
		clock:      retry.SystemClock{},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		ids:        UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run executes one session to a terminal state and returns its result.
func (s *Sequencer) Run(ctx context.Context) *Result {
	sess := newSession(s.ids.Generate(), s.cfg.Pairing, s.cfg.Package, s.clock.Now())
	log := s.logger.With("session", sess.ID, "pairing", sess.Pairing.String())

	log.Info("session started", "package", sess.Package.String())
	s.notifyStart(SessionInfo{
		ID:        sess.ID,
		Pairing:   sess.Pairing,
		Package:   sess.Package,
		StartedAt: sess.StartedAt,
	})

	s.runPhases(ctx, sess, log)

	res := sess.Result(s.clock.Now())
	if res.Succeeded() {
		log.Info("session succeeded", "elapsed", res.Elapsed)
	} else {
		log.Error("session failed",
			"phase", res.FailedPhase,
			"cause", res.Cause(),
			"firmware_written", res.FirmwareWritten,
			"error", res.Failure,
		)
	}
	s.notifyEnd(res)
	return res
}

// RunAttempts runs up to maxSessions sessions, starting a new one only
// while the previous failure is retryable. Sessions are separated by the
// pre-check interval.
func (s *Sequencer) RunAttempts(ctx context.Context, maxSessions int) []*Result {
	if maxSessions < 1 {
		maxSessions = 1
	}

	var results []*Result
	for i := 1; i <= maxSessions; i++ {
		res := s.Run(ctx)
		results = append(results, res)
		if res.Succeeded() || !res.Retryable() || i == maxSessions {
			break
		}

		s.logger.Warn("starting new session",
			"attempt", i+1,
			"max_sessions", maxSessions,
			"previous_cause", res.Cause(),
		)
		select {
		case <-ctx.Done():
			return results
		case <-s.clock.After(s.cfg.PreCheck.Interval):
		}
	}
	return results
}

type phaseFunc func(ctx context.Context, sess *Session, log *slog.Logger) PhaseOutcome

func (s *Sequencer) runPhases(ctx context.Context, sess *Session, log *slog.Logger) {
	steps := []struct {
		phase Phase
		run   phaseFunc
	}{
		{PhasePreCheck, s.preCheck},
		{PhaseModeSwitch, s.switchMode},
		{PhaseBootloaderWait, s.awaitBootloader},
		{PhaseTransfer, s.transfer},
		{PhasePostCheck, s.postCheck},
	}

	for _, step := range steps {
		start := s.clock.Now()

		// Cancellation is checked before every phase. The phase that was
		// about to run records the cancellation.
		if err := ctx.Err(); err != nil {
			s.record(sess, log, cancelled(step.phase, 0, err), start)
			return
		}

		if err := sess.begin(step.phase); err != nil {
			// Unreachable with the fixed step list above.
			panic(err)
		}
		log.Debug("phase started", "phase", step.phase, "state", sess.State())

		out := step.run(ctx, sess, log)
		out.Phase = step.phase
		s.record(sess, log, out, start)
		if !out.OK() {
			return
		}
	}

	if err := sess.succeed(); err != nil {
		panic(err)
	}
}

// record appends the outcome, logs it and notifies observers.
func (s *Sequencer) record(sess *Session, log *slog.Logger, out PhaseOutcome, start time.Time) {
	out.Elapsed = s.clock.Now().Sub(start)
	if err := sess.record(out); err != nil {
		panic(err)
	}

	attrs := []any{
		"phase", out.Phase,
		"status", out.Status,
		"attempts", out.Attempts,
		"elapsed", out.Elapsed,
	}
	if out.Detail != "" {
		attrs = append(attrs, "detail", out.Detail)
	}
	if out.OK() {
		log.Info("phase completed", attrs...)
	} else {
		attrs = append(attrs, "cause", out.Cause)
		if out.Err != nil {
			attrs = append(attrs, "error", out.Err)
		}
		log.Warn("phase failed", attrs...)
	}

	s.notifyPhase(PhaseEvent{
		SessionID: sess.ID,
		Pairing:   sess.Pairing,
		Phase:     out.Phase,
		Outcome:   out,
		Elapsed:   out.Elapsed,
		State:     sess.State(),
	})
}

func (s *Sequencer) preCheck(ctx context.Context, sess *Session, log *slog.Logger) PhaseOutcome {
	out, meta := s.poll(ctx, sess.Pairing.Application, s.cfg.PreCheck, CodePreCheckUnreachable, log)
	sess.before = meta
	return out
}

// switchMode issues the mode switch once. Every acknowledgement lets the
// session proceed to wait for the bootloader: a rejected or unanswered
// command does not prove the device stayed in application mode.
func (s *Sequencer) switchMode(ctx context.Context, sess *Session, log *slog.Logger) PhaseOutcome {
	mctx, cancel := withOptionalTimeout(ctx, s.cfg.ModeSwitchTimeout)
	res := s.switcher.SwitchMode(mctx, sess.Pairing.Application)
	cancel()

	if err := ctx.Err(); err != nil {
		return cancelled(PhaseModeSwitch, 1, err)
	}

	switch res.Ack {
	case device.Acknowledged:
		log.Info("mode switch acknowledged", "address", sess.Pairing.Application.Address)
	default:
		log.Warn("mode switch not acknowledged, waiting for bootloader anyway",
			"address", sess.Pairing.Application.Address,
			"ack", res.Ack.String(),
			"detail", res.Detail,
		)
	}

	return PhaseOutcome{Status: StatusOK, Attempts: 1, Detail: res.String()}
}

func (s *Sequencer) awaitBootloader(ctx context.Context, sess *Session, log *slog.Logger) PhaseOutcome {
	out, _ := s.poll(ctx, sess.Pairing.Bootloader, s.cfg.BootloaderWait, CodeBootloaderNotReached, log)
	return out
}

// transfer invokes the transfer collaborator exactly once.
func (s *Sequencer) transfer(ctx context.Context, sess *Session, log *slog.Logger) PhaseOutcome {
	tctx, cancel := withOptionalTimeout(ctx, s.cfg.TransferTimeout)
	res := s.transferer.Transfer(tctx, sess.Pairing.Bootloader, sess.Package)
	cancel()

	if res.Succeeded {
		sess.transferred = true
		return PhaseOutcome{Status: StatusOK, Attempts: 1}
	}
	if err := ctx.Err(); err != nil {
		return cancelled(PhaseTransfer, 1, err)
	}

	cause := res.Cause
	if cause == nil {
		cause = errors.New("transfer failed")
	}
	return PhaseOutcome{
		Status:   StatusFailed,
		Cause:    CodeTransferFailed,
		Err:      cause,
		Detail:   cause.Error(),
		Attempts: 1,
	}
}

func (s *Sequencer) postCheck(ctx context.Context, sess *Session, log *slog.Logger) PhaseOutcome {
	out, meta := s.poll(ctx, sess.Pairing.Application, s.cfg.PostCheck, CodePostCheckUnreachable, log)
	sess.after = meta
	return out
}

// poll probes id under policy until it is reachable. It returns the phase
// outcome and, on success, the metadata the device reported.
func (s *Sequencer) poll(ctx context.Context, id device.Identity, policy retry.Policy, giveUp FailureCode, log *slog.Logger) (PhaseOutcome, *device.Metadata) {
	var last device.ProbeResult
	res := retry.Poll(ctx, s.clock, policy, func(actx context.Context, n int) bool {
		last = s.prober.Probe(actx, id)
		log.Debug("probe", "identity", id.String(), "attempt", n, "result", last.String())
		return last.IsReachable()
	})

	switch res.Status {
	case retry.Done:
		meta := last.Metadata()
		return PhaseOutcome{Status: StatusOK, Attempts: res.Attempts, Detail: last.String()}, &meta
	case retry.Cancelled:
		return cancelled("", res.Attempts, res.Err), nil
	}

	status := StatusFailed
	if res.Status == retry.TimedOut {
		status = StatusTimedOut
	}
	out := PhaseOutcome{
		Status:   status,
		Cause:    giveUp,
		Attempts: res.Attempts,
		Err:      fmt.Errorf("%s not reachable after %d attempts (%s)", id, res.Attempts, res.Status),
	}
	if res.Attempts > 0 {
		out.Detail = "last probe: " + last.String()
		if cause := last.Cause(); cause != nil {
			out.Err = fmt.Errorf("%s not reachable after %d attempts (%s): %w", id, res.Attempts, res.Status, cause)
		}
	}
	return out, nil
}

// cancelled builds the outcome of a phase interrupted by ctx.
func cancelled(p Phase, attempts int, err error) PhaseOutcome {
	return PhaseOutcome{
		Phase:    p,
		Status:   StatusFailed,
		Cause:    CodeCancelled,
		Err:      err,
		Attempts: attempts,
	}
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (s *Sequencer) notifyStart(info SessionInfo) {
	for _, o := range s.observers {
		if so, ok := o.(SessionObserver); ok {
			s.safeNotify(func() { so.OnSessionStart(info) })
		}
	}
}

func (s *Sequencer) notifyPhase(ev PhaseEvent) {
	for _, o := range s.observers {
		s.safeNotify(func() { o.OnPhase(ev) })
	}
}

func (s *Sequencer) notifyEnd(res *Result) {
	for _, o := range s.observers {
		if so, ok := o.(SessionObserver); ok {
			s.safeNotify(func() { so.OnSessionEnd(res) })
		}
	}
}

func (s *Sequencer) safeNotify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("observer panicked", "panic", r)
		}
	}()
	fn()
}
