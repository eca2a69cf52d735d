package sequencer

import (
	"log/slog"

	"github.com/roach88/bledfu/internal/retry"
)

// Option is a functional option for configuring the Sequencer.
type Option func(*Sequencer)

// WithClock sets the clock used for polling and elapsed times.
func WithClock(clock retry.Clock) Option {
	return func(s *Sequencer) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sequencer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver adds an observer. Observers are notified in the order added.
func WithObserver(o Observer) Option {
	return func(s *Sequencer) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithIDGenerator overrides the session ID generator (for testing).
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Sequencer) {
		if g != nil {
			s.ids = g
		}
	}
}
