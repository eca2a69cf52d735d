package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/roach88/bledfu/internal/device"
)

// Default breaker settings.
const (
	defaultMaxFailures uint32        = 5
	defaultTimeout     time.Duration = 30 * time.Second
	defaultInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures a link circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive link errors that opens the
	// circuit.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a trial call.
	Timeout time.Duration
	// Interval clears failure counts while closed.
	Interval time.Duration
}

// errLink marks a collaborator answer that counts as a link failure.
var errLink = errors.New("link failure")

func newBreaker[T any](name string, cfg BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[T] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("link breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// cancelled reports whether the caller gave up on the call. An expired
// deadline is not a cancellation: the driver ran out of time on the link.
func cancelled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

func isOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// BreakerProber fails probes fast while the link keeps erroring.
// Unreachable answers are healthy: the link worked, the device was absent.
type BreakerProber struct {
	inner   device.Prober
	breaker *gobreaker.CircuitBreaker[device.ProbeResult]
}

// NewBreakerProber wraps inner.
func NewBreakerProber(name string, inner device.Prober, cfg BreakerConfig, logger *slog.Logger) *BreakerProber {
	return &BreakerProber{
		inner:   inner,
		breaker: newBreaker[device.ProbeResult]("probe:"+name, cfg, logger),
	}
}

func (b *BreakerProber) Probe(ctx context.Context, id device.Identity) device.ProbeResult {
	res, err := b.breaker.Execute(func() (device.ProbeResult, error) {
		r := b.inner.Probe(ctx, id)
		if r.Kind() == device.KindError && !cancelled(ctx) {
			return r, errLink
		}
		return r, nil
	})
	if isOpen(err) {
		return device.ProbeError(fmt.Errorf("probe link circuit open: %w", err))
	}
	return res
}

// State returns the breaker state.
func (b *BreakerProber) State() gobreaker.State {
	return b.breaker.State()
}

// BreakerSwitcher fails mode switches fast while commands keep timing out.
type BreakerSwitcher struct {
	inner   device.ModeSwitcher
	breaker *gobreaker.CircuitBreaker[device.ModeSwitchResult]
}

// NewBreakerSwitcher wraps inner.
func NewBreakerSwitcher(name string, inner device.ModeSwitcher, cfg BreakerConfig, logger *slog.Logger) *BreakerSwitcher {
	return &BreakerSwitcher{
		inner:   inner,
		breaker: newBreaker[device.ModeSwitchResult]("mode_switch:"+name, cfg, logger),
	}
}

func (b *BreakerSwitcher) SwitchMode(ctx context.Context, id device.Identity) device.ModeSwitchResult {
	res, err := b.breaker.Execute(func() (device.ModeSwitchResult, error) {
		r := b.inner.SwitchMode(ctx, id)
		if r.Ack == device.TimedOut && !cancelled(ctx) {
			return r, errLink
		}
		return r, nil
	})
	if isOpen(err) {
		return device.ModeSwitchResult{Ack: device.Rejected, Detail: "mode switch link circuit open"}
	}
	return res
}

// State returns the breaker state.
func (b *BreakerSwitcher) State() gobreaker.State {
	return b.breaker.State()
}
