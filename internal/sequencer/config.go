package sequencer

import (
	"fmt"
	"time"

	"github.com/roach88/bledfu/internal/device"
	"github.com/roach88/bledfu/internal/retry"
)

// Timing holds the recognised retry and timeout options.
type Timing struct {
	// MaxAttempts bounds pre-check and post-check probing.
	MaxAttempts int

	// PollInterval is the wait between probe attempts in every phase.
	PollInterval time.Duration

	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration

	// BootloaderWaitTimeout is the overall budget for the bootloader
	// identity to appear.
	BootloaderWaitTimeout time.Duration

	// PostCheckTimeout bounds post-check probing in addition to MaxAttempts.
	// Zero leaves post-check bounded by MaxAttempts only.
	PostCheckTimeout time.Duration

	// BackoffMultiplier grows the pre-check and post-check interval. Values
	// <= 1 keep it fixed. Bootloader polling always uses a fixed interval.
	BackoffMultiplier float64

	// MaxInterval caps the grown interval.
	MaxInterval time.Duration

	// ModeSwitchTimeout bounds the mode switch command. Zero disables it.
	ModeSwitchTimeout time.Duration

	// TransferTimeout bounds the transfer. Zero disables it.
	TransferTimeout time.Duration
}

// DefaultTiming returns conservative defaults for a BLE peripheral.
func DefaultTiming() Timing {
	return Timing{
		MaxAttempts:           3,
		PollInterval:          2 * time.Second,
		ProbeTimeout:          5 * time.Second,
		BootloaderWaitTimeout: 30 * time.Second,
		PostCheckTimeout:      60 * time.Second,
		ModeSwitchTimeout:     10 * time.Second,
		TransferTimeout:       10 * time.Minute,
	}
}

// Config is everything a Sequencer needs for one pairing.
type Config struct {
	Pairing device.Pairing
	Package device.Package

	PreCheck       retry.Policy
	BootloaderWait retry.Policy
	PostCheck      retry.Policy

	ModeSwitchTimeout time.Duration
	TransferTimeout   time.Duration
}

// NewConfig derives the phase policies from t.
func NewConfig(pairing device.Pairing, pkg device.Package, t Timing) Config {
	check := retry.Policy{
		MaxAttempts:    t.MaxAttempts,
		Interval:       t.PollInterval,
		AttemptTimeout: t.ProbeTimeout,
		Multiplier:     t.BackoffMultiplier,
		MaxInterval:    t.MaxInterval,
	}
	return Config{
		Pairing:  pairing,
		Package:  pkg,
		PreCheck: check,
		BootloaderWait: retry.Policy{
			Interval:       t.PollInterval,
			OverallTimeout: t.BootloaderWaitTimeout,
			AttemptTimeout: t.ProbeTimeout,
		},
		PostCheck:         check.WithTimeout(t.PostCheckTimeout),
		ModeSwitchTimeout: t.ModeSwitchTimeout,
		TransferTimeout:   t.TransferTimeout,
	}
}

// Validate checks the pairing, the package reference and every policy.
func (c Config) Validate() error {
	if err := c.Pairing.Validate(); err != nil {
		return err
	}
	if c.Package.Path == "" {
		return fmt.Errorf("package reference is required")
	}
	if c.PreCheck.MaxAttempts < 1 {
		return fmt.Errorf("pre-check: max attempts must be >= 1, got %d", c.PreCheck.MaxAttempts)
	}
	if err := c.PreCheck.Validate(); err != nil {
		return fmt.Errorf("pre-check: %w", err)
	}
	if c.BootloaderWait.OverallTimeout <= 0 {
		return fmt.Errorf("bootloader wait: timeout is required")
	}
	if err := c.BootloaderWait.Validate(); err != nil {
		return fmt.Errorf("bootloader wait: %w", err)
	}
	if err := c.PostCheck.Validate(); err != nil {
		return fmt.Errorf("post-check: %w", err)
	}
	if c.ModeSwitchTimeout < 0 || c.TransferTimeout < 0 {
		return fmt.Errorf("timeouts must be >= 0")
	}
	return nil
}
