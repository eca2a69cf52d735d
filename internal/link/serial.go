package link

import (
	"context"
	"fmt"

	"github.com/roach88/bledfu/internal/device"
)

// SerialProber runs at most one probe per address at a time.
type SerialProber struct {
	Inner device.Prober
	Locks *Locks
}

func (p SerialProber) Probe(ctx context.Context, id device.Identity) device.ProbeResult {
	unlock, err := p.Locks.Lock(ctx, id.Address)
	if err != nil {
		return device.ProbeError(fmt.Errorf("waiting for %s: %w", id.Address, err))
	}
	defer unlock()
	return p.Inner.Probe(ctx, id)
}

// SerialSwitcher runs at most one mode switch per address at a time.
type SerialSwitcher struct {
	Inner device.ModeSwitcher
	Locks *Locks
}

func (s SerialSwitcher) SwitchMode(ctx context.Context, id device.Identity) device.ModeSwitchResult {
	unlock, err := s.Locks.Lock(ctx, id.Address)
	if err != nil {
		return device.ModeSwitchResult{Ack: device.TimedOut, Detail: fmt.Sprintf("waiting for %s: %v", id.Address, err)}
	}
	defer unlock()
	return s.Inner.SwitchMode(ctx, id)
}

// SerialTransferer runs at most one transfer per address at a time.
type SerialTransferer struct {
	Inner device.Transferer
	Locks *Locks
}

func (t SerialTransferer) Transfer(ctx context.Context, id device.Identity, pkg device.Package) device.TransferResult {
	unlock, err := t.Locks.Lock(ctx, id.Address)
	if err != nil {
		return device.TransferFailed(fmt.Errorf("waiting for %s: %w", id.Address, err))
	}
	defer unlock()
	return t.Inner.Transfer(ctx, id, pkg)
}

// Serialize wraps all three collaborators with one shared lock set, so
// that every call against an address is exclusive across sessions.
func Serialize(locks *Locks, p device.Prober, s device.ModeSwitcher, t device.Transferer) (device.Prober, device.ModeSwitcher, device.Transferer) {
	return SerialProber{Inner: p, Locks: locks},
		SerialSwitcher{Inner: s, Locks: locks},
		SerialTransferer{Inner: t, Locks: locks}
}
