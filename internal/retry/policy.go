package retry

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy parameterises a polling loop.
type Policy struct {
	// MaxAttempts bounds the number of attempts. Zero means the loop is
	// bounded only by OverallTimeout, which must then be set.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// Interval is the wait after the first failed attempt.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// OverallTimeout bounds the whole loop, waits included. Zero disables it.
	OverallTimeout time.Duration `json:"overall_timeout,omitempty" yaml:"overall_timeout"`

	// AttemptTimeout bounds a single attempt. Zero disables it.
	AttemptTimeout time.Duration `json:"attempt_timeout,omitempty" yaml:"attempt_timeout"`

	// Multiplier grows the interval after each attempt. Values <= 1 keep
	// the interval fixed.
	Multiplier float64 `json:"multiplier,omitempty" yaml:"multiplier"`

	// MaxInterval caps the grown interval. Zero leaves it uncapped.
	MaxInterval time.Duration `json:"max_interval,omitempty" yaml:"max_interval"`
}

// ErrInvalidPolicy is wrapped by every error returned from Policy.Validate.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Validate checks the policy's bounds.
func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts must be >= 0, got %d", ErrInvalidPolicy, p.MaxAttempts)
	}
	if p.MaxAttempts == 0 && p.OverallTimeout <= 0 {
		return fmt.Errorf("%w: unbounded attempts require an overall timeout", ErrInvalidPolicy)
	}
	if p.Interval < 0 {
		return fmt.Errorf("%w: interval must be >= 0, got %s", ErrInvalidPolicy, p.Interval)
	}
	if p.OverallTimeout < 0 || p.AttemptTimeout < 0 || p.MaxInterval < 0 {
		return fmt.Errorf("%w: timeouts must be >= 0", ErrInvalidPolicy)
	}
	if p.Multiplier < 0 {
		return fmt.Errorf("%w: multiplier must be >= 0, got %g", ErrInvalidPolicy, p.Multiplier)
	}
	return nil
}

// Delay returns the wait that follows the given failed attempt (1-based).
// A grown interval never exceeds MaxInterval, or OverallTimeout when no
// MaxInterval is set.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ceiling := p.ceiling()
	d := p.Interval
	if p.Multiplier > 1 {
		f := float64(d)
		for i := 1; i < attempt; i++ {
			f *= p.Multiplier
			if f >= float64(ceiling) {
				return ceiling
			}
		}
		d = time.Duration(f)
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		d = p.MaxInterval
	}
	return d
}

func (p Policy) ceiling() time.Duration {
	switch {
	case p.MaxInterval > 0:
		return p.MaxInterval
	case p.OverallTimeout > 0:
		return p.OverallTimeout
	default:
		return time.Duration(math.MaxInt64)
	}
}

// WithTimeout returns a copy of p with OverallTimeout set to d.
func (p Policy) WithTimeout(d time.Duration) Policy {
	p.OverallTimeout = d
	return p
}

func (p Policy) String() string {
	s := fmt.Sprintf("attempts=%d interval=%s", p.MaxAttempts, p.Interval)
	if p.OverallTimeout > 0 {
		s += fmt.Sprintf(" timeout=%s", p.OverallTimeout)
	}
	if p.Multiplier > 1 {
		s += fmt.Sprintf(" backoff=x%g", p.Multiplier)
	}
	return s
}
