package link

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"

	"github.com/roach88/bledfu/internal/device"
	"github.com/roach88/bledfu/internal/testutil"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestBreakerProber_OpensOnLinkErrors(t *testing.T) {
	log := &testutil.CallLog{}
	inner := testutil.NewScriptedProber(log).Script("A", device.ProbeError(errors.New("hci0 down")))
	b := NewBreakerProber("hci0", inner, BreakerConfig{MaxFailures: 2, Timeout: time.Minute}, quiet)

	for i := 0; i < 2; i++ {
		assert.Equal(t, device.KindError, b.Probe(context.Background(), device.Application("A")).Kind())
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	res := b.Probe(context.Background(), device.Application("A"))
	assert.Equal(t, device.KindError, res.Kind())
	assert.ErrorIs(t, res.Cause(), gobreaker.ErrOpenState)
	assert.Equal(t, 2, log.Count(testutil.OpProbe, "A"), "open circuit skips the driver")
}

func TestBreakerProber_UnreachableIsHealthy(t *testing.T) {
	inner := testutil.NewScriptedProber(nil)
	b := NewBreakerProber("hci0", inner, BreakerConfig{MaxFailures: 1}, quiet)

	for i := 0; i < 5; i++ {
		assert.Equal(t, device.KindUnreachable, b.Probe(context.Background(), device.Application("A")).Kind())
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerProber_HalfOpenRecovers(t *testing.T) {
	inner := testutil.NewScriptedProber(nil).
		Script("A", device.ProbeError(errors.New("busy")), device.Reachable(device.Metadata{}))
	b := NewBreakerProber("hci0", inner, BreakerConfig{MaxFailures: 1, Timeout: 20 * time.Millisecond}, quiet)

	b.Probe(context.Background(), device.Application("A"))
	assert.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(50 * time.Millisecond)
	assert.True(t, b.Probe(context.Background(), device.Application("A")).IsReachable())
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerSwitcher_OpensOnTimeouts(t *testing.T) {
	log := &testutil.CallLog{}
	inner := &testutil.StubSwitcher{Result: device.ModeSwitchResult{Ack: device.TimedOut}, Log: log}
	b := NewBreakerSwitcher("hci0", inner, BreakerConfig{MaxFailures: 1, Timeout: time.Minute}, quiet)

	assert.Equal(t, device.TimedOut, b.SwitchMode(context.Background(), device.Application("A")).Ack)
	assert.Equal(t, gobreaker.StateOpen, b.State())

	res := b.SwitchMode(context.Background(), device.Application("A"))
	assert.Equal(t, device.Rejected, res.Ack)
	assert.Contains(t, res.Detail, "circuit open")
	assert.Equal(t, 1, log.Count(testutil.OpModeSwitch, ""))
}

func TestBreakerSwitcher_RejectionIsHealthy(t *testing.T) {
	inner := &testutil.StubSwitcher{Result: device.ModeSwitchResult{Ack: device.Rejected}}
	b := NewBreakerSwitcher("hci0", inner, BreakerConfig{MaxFailures: 1}, quiet)

	b.SwitchMode(context.Background(), device.Application("A"))
	b.SwitchMode(context.Background(), device.Application("A"))
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

// stallingSwitcher answers only once its context is done, the way real
// drivers report an unanswered mode switch.
type stallingSwitcher struct{ calls int }

func (s *stallingSwitcher) SwitchMode(ctx context.Context, id device.Identity) device.ModeSwitchResult {
	s.calls++
	<-ctx.Done()
	return device.ModeSwitchResult{Ack: device.TimedOut, Detail: ctx.Err().Error()}
}

func TestBreakerSwitcher_OpensOnExpiredDeadlines(t *testing.T) {
	inner := &stallingSwitcher{}
	b := NewBreakerSwitcher("hci0", inner, BreakerConfig{MaxFailures: 2, Timeout: time.Minute}, quiet)

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		assert.Equal(t, device.TimedOut, b.SwitchMode(ctx, device.Application("A")).Ack)
		cancel()
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	res := b.SwitchMode(ctx, device.Application("A"))
	assert.Equal(t, device.Rejected, res.Ack)
	assert.Equal(t, 2, inner.calls, "open circuit skips the driver")
}

func TestBreakerSwitcher_CallerCancelIsNotAFailure(t *testing.T) {
	inner := &stallingSwitcher{}
	b := NewBreakerSwitcher("hci0", inner, BreakerConfig{MaxFailures: 1}, quiet)

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Equal(t, device.TimedOut, b.SwitchMode(ctx, device.Application("A")).Ack)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, 3, inner.calls)
}
