package link

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/roach88/bledfu/internal/device"
)

// LimitedProber paces probes through a shared token bucket. One radio
// serves every session in the process.
type LimitedProber struct {
	inner   device.Prober
	limiter *rate.Limiter
}

// NewLimitedProber allows perSecond probes per second with a burst of one.
// A rate <= 0 disables limiting.
func NewLimitedProber(inner device.Prober, perSecond float64) device.Prober {
	if perSecond <= 0 {
		return inner
	}
	return &LimitedProber{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

func (p *LimitedProber) Probe(ctx context.Context, id device.Identity) device.ProbeResult {
	if err := p.limiter.Wait(ctx); err != nil {
		return device.ProbeError(fmt.Errorf("probe rate limit: %w", err))
	}
	return p.inner.Probe(ctx, id)
}
