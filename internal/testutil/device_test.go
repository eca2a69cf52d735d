package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/bledfu/internal/device"
)

func TestScriptedProber_ReplaysAndRepeatsLast(t *testing.T) {
	log := &CallLog{}
	p := NewScriptedProber(log).Script("b", device.Unreachable(), device.Reachable(device.Metadata{}))
	ctx := context.Background()
	id := device.Bootloader("B")

	assert.False(t, p.Probe(ctx, id).IsReachable())
	assert.True(t, p.Probe(ctx, id).IsReachable())
	assert.True(t, p.Probe(ctx, id).IsReachable())

	assert.Equal(t, 3, p.Probes("b"))
	assert.Equal(t, 3, log.Count(OpProbe, "B"))
}

func TestScriptedProber_UnscriptedIsUnreachable(t *testing.T) {
	p := NewScriptedProber(nil)
	r := p.Probe(context.Background(), device.Application("A"))
	assert.Equal(t, device.KindUnreachable, r.Kind())
}

func TestScriptedProber_OnProbeHook(t *testing.T) {
	var seen []int
	p := NewScriptedProber(nil)
	p.OnProbe = func(id device.Identity, n int) { seen = append(seen, n) }

	p.Probe(context.Background(), device.Application("A"))
	p.Probe(context.Background(), device.Application("A"))
	assert.Equal(t, []int{1, 2}, seen)
}

func TestStubs_RecordCalls(t *testing.T) {
	log := &CallLog{}
	sw := &StubSwitcher{Result: device.ModeSwitchResult{Ack: device.Rejected}, Log: log}
	tr := &StubTransferer{Result: device.TransferOK(), Log: log}
	ctx := context.Background()

	assert.Equal(t, device.Rejected, sw.SwitchMode(ctx, device.Application("A")).Ack)
	assert.True(t, tr.Transfer(ctx, device.Bootloader("B"), device.Package{Path: "p.zip"}).Succeeded)

	assert.Equal(t, []Call{
		{Op: OpModeSwitch, Address: "A"},
		{Op: OpTransfer, Address: "B"},
	}, log.Calls())
	assert.Equal(t, 0, log.Count(OpProbe, ""))
}
