package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/bledfu/internal/device"
	"github.com/roach88/bledfu/internal/sequencer"
	"github.com/roach88/bledfu/internal/testutil"
)

// Default timing for scenarios that leave it unset.
const (
	defaultMaxAttempts    = 3
	defaultPollInterval   = time.Second
	defaultBootloaderWait = 10 * time.Second
)

// Harness executes one scenario. It records collaborator calls and
// sequencer notifications into a single ordered trace.
type Harness struct {
	scenario *Scenario
	clock    *testutil.FakeClock
	calls    *testutil.CallLog
	logger   *slog.Logger
	cancel   context.CancelFunc

	mu     sync.Mutex
	trace  []TraceEvent
	counts map[string]int
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger routes sequencer logs to logger. Logs are discarded by
// default.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) { h.logger = logger }
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Build scripted collaborators and a fake clock
// 2. Run up to session_attempts sessions through the sequencer
// 3. Check expectations against the last session
//
// An error is returned only when the scenario cannot be executed; failed
// expectations are reported in the Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		scenario: scenario,
		clock:    testutil.NewFakeClock(),
		calls:    &testutil.CallLog{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		counts:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(h)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.cancel = cancel

	seq, err := h.sequencer()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	attempts := scenario.SessionAttempts
	if attempts == 0 {
		attempts = 1
	}
	sessions := seq.RunAttempts(ctx, attempts)

	result := NewResult()
	result.Sessions = sessions
	h.mu.Lock()
	result.Trace = append(result.Trace, h.trace...)
	h.mu.Unlock()

	for _, err := range checkExpectations(scenario.Expect, result, h.calls) {
		result.AddError(err.Error())
	}
	return result, nil
}

func (h *Harness) sequencer() (*sequencer.Sequencer, error) {
	s := h.scenario
	pairing := device.NewPairing(s.Device.Application, s.Device.Bootloader)

	timing := sequencer.Timing{
		MaxAttempts:           s.Timing.MaxAttempts,
		PollInterval:          s.Timing.PollInterval,
		ProbeTimeout:          s.Timing.ProbeTimeout,
		BootloaderWaitTimeout: s.Timing.BootloaderWaitTimeout,
		PostCheckTimeout:      s.Timing.PostCheckTimeout,
		BackoffMultiplier:     s.Timing.BackoffMultiplier,
	}
	if timing.MaxAttempts == 0 {
		timing.MaxAttempts = defaultMaxAttempts
	}
	if timing.PollInterval == 0 {
		timing.PollInterval = defaultPollInterval
	}
	if timing.BootloaderWaitTimeout == 0 {
		timing.BootloaderWaitTimeout = defaultBootloaderWait
	}

	prober := testutil.NewScriptedProber(h.calls)
	for addr, steps := range s.Probes {
		prober.Script(addr, probeScript(steps)...)
	}

	switcher := &testutil.StubSwitcher{Result: device.ModeSwitchResult{Ack: device.Acknowledged}, Log: h.calls}
	if m := s.ModeSwitch; m != nil {
		switcher.Result = device.ModeSwitchResult{Ack: ackOf(m.Ack), Detail: m.Detail}
	}

	transferer := &testutil.StubTransferer{Result: device.TransferOK(), Log: h.calls}
	if t := s.Transfer; t != nil && t.Result == TransferFailed {
		msg := t.Error
		if msg == "" {
			msg = "transfer failed"
		}
		transferer.Result = device.TransferFailed(errors.New(msg))
	}

	cfg := sequencer.NewConfig(pairing, device.Package{Path: "scenario.zip"}, timing)
	return sequencer.New(cfg,
		recordingProber{inner: prober, h: h},
		recordingSwitcher{inner: switcher, h: h},
		recordingTransferer{inner: transferer, h: h},
		sequencer.WithClock(h.clock),
		sequencer.WithLogger(h.logger),
		sequencer.WithIDGenerator(testutil.NewFixedIDGenerator(s.SessionID)),
		sequencer.WithObserver(h),
	)
}

func probeScript(steps []ProbeStep) []device.ProbeResult {
	var out []device.ProbeResult
	for _, step := range steps {
		var r device.ProbeResult
		switch step.Result {
		case ProbeReachable:
			r = device.Reachable(device.Metadata{FirmwareVersion: step.Firmware})
		case ProbeErrored:
			msg := step.Error
			if msg == "" {
				msg = "probe error"
			}
			r = device.ProbeError(errors.New(msg))
		default:
			r = device.Unreachable()
		}
		n := step.Repeat
		if n == 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			out = append(out, r)
		}
	}
	return out
}

func ackOf(s string) device.ModeSwitchAck {
	switch s {
	case AckRejected:
		return device.Rejected
	case AckTimedOut:
		return device.TimedOut
	default:
		return device.Acknowledged
	}
}

func (h *Harness) at() string {
	return h.clock.Elapsed().String()
}

func (h *Harness) add(ev TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev.At = h.at()
	h.trace = append(h.trace, ev)
}

// called records a collaborator call and fires the scripted cancel.
func (h *Harness) called(op, address, result string) {
	h.add(TraceEvent{Type: EventCall, Op: op, Address: address, Result: result})

	c := h.scenario.CancelOn
	if c == nil || c.Op != op {
		return
	}
	if c.Address != "" && device.NormalizeAddress(c.Address) != address {
		return
	}
	h.mu.Lock()
	h.counts[op]++
	n := h.counts[op]
	h.mu.Unlock()
	if n == c.Call {
		h.cancel()
	}
}

func (h *Harness) OnSessionStart(info sequencer.SessionInfo) {
	h.add(TraceEvent{Type: EventSessionStart, Session: info.ID})
}

func (h *Harness) OnPhase(ev sequencer.PhaseEvent) {
	out := ev.Outcome
	h.add(TraceEvent{
		Type:     EventPhase,
		Session:  ev.SessionID,
		Phase:    string(ev.Phase),
		Status:   string(out.Status),
		Cause:    string(out.Cause),
		Attempts: out.Attempts,
		Elapsed:  out.Elapsed.String(),
	})
}

func (h *Harness) OnSessionEnd(res *sequencer.Result) {
	h.add(TraceEvent{
		Type:    EventSessionEnd,
		Session: res.SessionID,
		Phase:   string(res.FailedPhase),
		Status:  string(res.State),
		Cause:   string(res.Cause()),
		Elapsed: res.Elapsed.String(),
	})
}

type recordingProber struct {
	inner device.Prober
	h     *Harness
}

func (p recordingProber) Probe(ctx context.Context, id device.Identity) device.ProbeResult {
	r := p.inner.Probe(ctx, id)
	p.h.called(testutil.OpProbe, id.Address, r.String())
	return r
}

type recordingSwitcher struct {
	inner device.ModeSwitcher
	h     *Harness
}

func (s recordingSwitcher) SwitchMode(ctx context.Context, id device.Identity) device.ModeSwitchResult {
	r := s.inner.SwitchMode(ctx, id)
	s.h.called(testutil.OpModeSwitch, id.Address, r.String())
	return r
}

type recordingTransferer struct {
	inner device.Transferer
	h     *Harness
}

func (t recordingTransferer) Transfer(ctx context.Context, id device.Identity, pkg device.Package) device.TransferResult {
	r := t.inner.Transfer(ctx, id, pkg)
	result := "ok"
	if !r.Succeeded {
		result = fmt.Sprintf("failed: %v", r.Cause)
	}
	t.h.called(testutil.OpTransfer, id.Address, result)
	return r
}

var _ sequencer.SessionObserver = (*Harness)(nil)
