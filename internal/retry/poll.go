package retry

import (
	"context"
	"fmt"
	"time"
)

// Status is how a polling loop ended.
type Status int

const (
	// Done means an attempt reported success.
	Done Status = iota
	// Exhausted means MaxAttempts attempts all failed.
	Exhausted
	// TimedOut means the overall budget ran out.
	TimedOut
	// Cancelled means the caller's context ended.
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Done:
		return "done"
	case Exhausted:
		return "exhausted"
	case TimedOut:
		return "timed out"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Outcome summarises a polling loop.
type Outcome struct {
	Status   Status
	Attempts int
	Elapsed  time.Duration

	// Err is the context error when Status is Cancelled.
	Err error
}

// AttemptFunc performs one attempt and reports whether polling is done.
// ctx carries the per-attempt deadline; n counts attempts from 1.
type AttemptFunc func(ctx context.Context, n int) bool

// Poll calls attempt until it reports done or the policy gives up.
// The caller is expected to have validated p.
func Poll(ctx context.Context, clock Clock, p Policy, attempt AttemptFunc) Outcome {
	if clock == nil {
		clock = SystemClock{}
	}

	start := clock.Now()
	var deadline time.Time
	if p.OverallTimeout > 0 {
		deadline = start.Add(p.OverallTimeout)
	}

	finish := func(status Status, attempts int) Outcome {
		out := Outcome{Status: status, Attempts: attempts, Elapsed: clock.Now().Sub(start)}
		if status == Cancelled {
			out.Err = ctx.Err()
		}
		return out
	}

	for n := 1; ; n++ {
		if ctx.Err() != nil {
			return finish(Cancelled, n-1)
		}
		if !deadline.IsZero() && !clock.Now().Before(deadline) {
			return finish(TimedOut, n-1)
		}

		actx, cancel := attemptContext(ctx, clock, p, deadline)
		done := attempt(actx, n)
		cancel()

		if done {
			return finish(Done, n)
		}
		if ctx.Err() != nil {
			return finish(Cancelled, n)
		}
		if p.MaxAttempts > 0 && n >= p.MaxAttempts {
			return finish(Exhausted, n)
		}

		wait := p.Delay(n)
		if !deadline.IsZero() {
			remaining := deadline.Sub(clock.Now())
			if remaining <= 0 {
				return finish(TimedOut, n)
			}
			if wait > remaining {
				wait = remaining
			}
		}

		select {
		case <-ctx.Done():
			return finish(Cancelled, n)
		case <-clock.After(wait):
		}
	}
}

// attemptContext derives the context for one attempt: bounded by the
// per-attempt timeout and by whatever is left of the overall budget.
func attemptContext(ctx context.Context, clock Clock, p Policy, deadline time.Time) (context.Context, context.CancelFunc) {
	limit := p.AttemptTimeout
	if !deadline.IsZero() {
		remaining := deadline.Sub(clock.Now())
		if limit <= 0 || remaining < limit {
			limit = remaining
		}
	}
	if limit <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, limit)
}
