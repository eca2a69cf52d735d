package device

import (
	"context"
	"fmt"
)

// Prober queries a device's reachability and identity. Implementations must
// honour ctx: the sequencer bounds every attempt with a deadline.
type Prober interface {
	Probe(ctx context.Context, id Identity) ProbeResult
}

// ModeSwitcher asks a device in application mode to restart into its
// bootloader. Every outcome is best effort.
type ModeSwitcher interface {
	SwitchMode(ctx context.Context, id Identity) ModeSwitchResult
}

// Transferer performs a complete firmware transfer to a device in
// bootloader mode. Any packet level retry is internal to the implementation.
type Transferer interface {
	Transfer(ctx context.Context, id Identity, pkg Package) TransferResult
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, id Identity) ProbeResult

func (f ProberFunc) Probe(ctx context.Context, id Identity) ProbeResult { return f(ctx, id) }

// ModeSwitcherFunc adapts a function to ModeSwitcher.
type ModeSwitcherFunc func(ctx context.Context, id Identity) ModeSwitchResult

func (f ModeSwitcherFunc) SwitchMode(ctx context.Context, id Identity) ModeSwitchResult {
	return f(ctx, id)
}

// TransfererFunc adapts a function to Transferer.
type TransfererFunc func(ctx context.Context, id Identity, pkg Package) TransferResult

func (f TransfererFunc) Transfer(ctx context.Context, id Identity, pkg Package) TransferResult {
	return f(ctx, id, pkg)
}

// ModeSwitchAck is the acknowledgement, if any, the device gave to the
// mode switch command.
type ModeSwitchAck int

const (
	Acknowledged ModeSwitchAck = iota
	Rejected
	TimedOut
)

func (a ModeSwitchAck) String() string {
	switch a {
	case Acknowledged:
		return "acknowledged"
	case Rejected:
		return "rejected"
	case TimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("ModeSwitchAck(%d)", int(a))
	}
}

// ModeSwitchResult carries the acknowledgement and a free-form detail
// (response code, error text) used for logging only.
type ModeSwitchResult struct {
	Ack    ModeSwitchAck
	Detail string
}

func (r ModeSwitchResult) String() string {
	if r.Detail == "" {
		return r.Ack.String()
	}
	return r.Ack.String() + ": " + r.Detail
}

// TransferResult is final for a session.
type TransferResult struct {
	Succeeded bool
	Cause     error
}

// TransferOK reports a completed transfer.
func TransferOK() TransferResult {
	return TransferResult{Succeeded: true}
}

// TransferFailed reports a failed transfer. A nil cause is replaced with a
// generic one so that failures always carry details.
func TransferFailed(cause error) TransferResult {
	if cause == nil {
		cause = fmt.Errorf("transfer failed")
	}
	return TransferResult{Cause: cause}
}
