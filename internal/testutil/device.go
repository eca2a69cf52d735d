package testutil

import (
	"context"
	"sync"

	"github.com/roach88/bledfu/internal/device"
)

// Collaborator operation names recorded in a CallLog.
const (
	OpProbe      = "probe"
	OpModeSwitch = "mode_switch"
	OpTransfer   = "transfer"
)

// Call is one recorded collaborator invocation.
type Call struct {
	Op      string
	Address string
}

// CallLog records collaborator calls across fakes in invocation order.
type CallLog struct {
	mu    sync.Mutex
	calls []Call
}

// Record appends a call.
func (l *CallLog) Record(op, address string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, Call{Op: op, Address: address})
}

// Calls returns a copy of the recorded calls.
func (l *CallLog) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Call, len(l.calls))
	copy(out, l.calls)
	return out
}

// Count returns how many calls match op and address. An empty address
// matches every address.
func (l *CallLog) Count(op, address string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c.Op == op && (address == "" || c.Address == address) {
			n++
		}
	}
	return n
}

// ScriptedProber replays a per-address script of probe results. The last
// entry of a script repeats forever; addresses without a script are
// unreachable.
type ScriptedProber struct {
	mu      sync.Mutex
	scripts map[string][]device.ProbeResult
	seen    map[string]int
	log     *CallLog

	// OnProbe runs after the n-th probe (1-based) of id has been answered.
	// Tests use it to cancel a session mid-poll.
	OnProbe func(id device.Identity, n int)
}

// NewScriptedProber creates a prober that records into log (may be nil).
func NewScriptedProber(log *CallLog) *ScriptedProber {
	if log == nil {
		log = &CallLog{}
	}
	return &ScriptedProber{
		scripts: make(map[string][]device.ProbeResult),
		seen:    make(map[string]int),
		log:     log,
	}
}

// Script sets the results returned for address.
func (p *ScriptedProber) Script(address string, results ...device.ProbeResult) *ScriptedProber {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[device.NormalizeAddress(address)] = results
	return p
}

// Probe implements device.Prober.
func (p *ScriptedProber) Probe(ctx context.Context, id device.Identity) device.ProbeResult {
	p.log.Record(OpProbe, id.Address)

	p.mu.Lock()
	p.seen[id.Address]++
	n := p.seen[id.Address]
	script := p.scripts[id.Address]
	hook := p.OnProbe
	p.mu.Unlock()

	result := device.Unreachable()
	switch {
	case len(script) == 0:
	case n <= len(script):
		result = script[n-1]
	default:
		result = script[len(script)-1]
	}

	if hook != nil {
		hook(id, n)
	}
	return result
}

// Probes returns how many times address was probed.
func (p *ScriptedProber) Probes(address string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen[device.NormalizeAddress(address)]
}

// StubSwitcher answers every mode switch with Result.
type StubSwitcher struct {
	Result device.ModeSwitchResult
	Log    *CallLog

	// OnSwitch runs after the command has been answered.
	OnSwitch func(id device.Identity)
}

// SwitchMode implements device.ModeSwitcher.
func (s *StubSwitcher) SwitchMode(ctx context.Context, id device.Identity) device.ModeSwitchResult {
	if s.Log != nil {
		s.Log.Record(OpModeSwitch, id.Address)
	}
	if s.OnSwitch != nil {
		s.OnSwitch(id)
	}
	return s.Result
}

// StubTransferer answers every transfer with Result.
type StubTransferer struct {
	Result device.TransferResult
	Log    *CallLog

	// OnTransfer runs after the transfer has been answered.
	OnTransfer func(id device.Identity, pkg device.Package)
}

// Transfer implements device.Transferer.
func (t *StubTransferer) Transfer(ctx context.Context, id device.Identity, pkg device.Package) device.TransferResult {
	if t.Log != nil {
		t.Log.Record(OpTransfer, id.Address)
	}
	if t.OnTransfer != nil {
		t.OnTransfer(id, pkg)
	}
	return t.Result
}
