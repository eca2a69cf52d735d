// Package config loads bledfu's YAML configuration.
//
// A configuration names the pairing (or fleet of pairings) to update, the
// firmware package, the retry and timeout policy, and which link drivers
// talk to the devices. Durations are written as Go duration strings
// ("2s", "10m").
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/bledfu/internal/device"
	"github.com/roach88/bledfu/internal/sequencer"
)

// Link driver names.
const (
	DriverBLE     = "ble"
	DriverCommand = "command"
)

// Tracing exporter names.
const (
	ExporterNone   = ""
	ExporterNoop   = "noop"
	ExporterStdout = "stdout"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid config")

// Config is the whole configuration file.
type Config struct {
	Device          PairingConfig   `yaml:"device"`
	Package         string          `yaml:"package"`
	Retry           RetryConfig     `yaml:"retry"`
	SessionAttempts int             `yaml:"session_attempts"`
	Probe           ProbeConfig     `yaml:"probe"`
	ModeSwitch      SwitchConfig    `yaml:"mode_switch"`
	Transfer        TransferConfig  `yaml:"transfer"`
	Link            LinkConfig      `yaml:"link"`
	Journal         string          `yaml:"journal"`
	Tracing         TracingConfig   `yaml:"tracing"`
	Fleet           []PairingConfig `yaml:"fleet"`
	Parallel        int             `yaml:"parallel"`
}

// PairingConfig names the two addresses of one physical device.
type PairingConfig struct {
	Application string `yaml:"application"`
	Bootloader  string `yaml:"bootloader"`
}

// Pairing converts to a device.Pairing.
func (p PairingConfig) Pairing() device.Pairing {
	return device.NewPairing(p.Application, p.Bootloader)
}

// RetryConfig is the retry and timeout policy.
type RetryConfig struct {
	MaxAttempts           int           `yaml:"max_attempts"`
	PollInterval          time.Duration `yaml:"poll_interval"`
	ProbeTimeout          time.Duration `yaml:"probe_timeout"`
	BackoffMultiplier     float64       `yaml:"backoff_multiplier"`
	MaxInterval           time.Duration `yaml:"max_interval"`
	BootloaderWaitTimeout time.Duration `yaml:"bootloader_wait_timeout"`
	PostCheckTimeout      time.Duration `yaml:"post_check_timeout"`
}

// ProbeConfig selects how reachability is checked.
type ProbeConfig struct {
	Driver               string   `yaml:"driver"`
	Command              []string `yaml:"command"`
	UnreachableExitCodes []int    `yaml:"unreachable_exit_codes"`
}

// SwitchConfig selects how the mode switch is issued.
type SwitchConfig struct {
	Driver  string        `yaml:"driver"`
	Timeout time.Duration `yaml:"timeout"`
	Command []string      `yaml:"command"`
}

// TransferConfig is the external transfer tool.
type TransferConfig struct {
	Command []string      `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// LinkConfig tunes the shared radio link.
type LinkConfig struct {
	Adapter            string        `yaml:"adapter"`
	ProbeRate          float64       `yaml:"probe_rate"`
	BreakerMaxFailures uint32        `yaml:"breaker_max_failures"`
	BreakerTimeout     time.Duration `yaml:"breaker_timeout"`
}

// TracingConfig selects the OpenTelemetry exporter.
type TracingConfig struct {
	Exporter string `yaml:"exporter"`
}

// Default returns a configuration with every optional field set. Device
// addresses and the package are left empty.
func Default() *Config {
	t := sequencer.DefaultTiming()
	return &Config{
		Retry: RetryConfig{
			MaxAttempts:           t.MaxAttempts,
			PollInterval:          t.PollInterval,
			ProbeTimeout:          t.ProbeTimeout,
			BackoffMultiplier:     1,
			MaxInterval:           10 * time.Second,
			BootloaderWaitTimeout: t.BootloaderWaitTimeout,
			PostCheckTimeout:      t.PostCheckTimeout,
		},
		SessionAttempts: 1,
		Probe:           ProbeConfig{Driver: DriverBLE},
		ModeSwitch:      SwitchConfig{Driver: DriverBLE, Timeout: t.ModeSwitchTimeout},
		Transfer:        TransferConfig{Timeout: t.TransferTimeout},
		Link: LinkConfig{
			Adapter:            "hci0",
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
		},
		Parallel: 1,
	}
}

// Load reads path over the defaults. Unknown keys are rejected. Relative
// package and journal paths are resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	cfg.Package = resolve(base, cfg.Package)
	cfg.Journal = resolve(base, cfg.Journal)
	return cfg, nil
}

// Parse decodes YAML over the defaults without validating.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate checks the configuration. Device addresses are only checked
// when no fleet is configured.
func (c *Config) Validate() error {
	pairings := c.Pairings()
	if len(pairings) == 0 {
		return fmt.Errorf("%w: device.application and device.bootloader are required", ErrInvalid)
	}
	owner := make(map[string]int, 2*len(pairings))
	for i, p := range pairings {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		for _, addr := range []string{p.Application.Address, p.Bootloader.Address} {
			if j, ok := owner[addr]; ok {
				return fmt.Errorf("%w: address %s appears in fleet pairings %d and %d", ErrInvalid, addr, j+1, i+1)
			}
			owner[addr] = i
		}
	}
	if c.Package == "" {
		return fmt.Errorf("%w: package is required", ErrInvalid)
	}
	if c.SessionAttempts < 1 {
		return fmt.Errorf("%w: session_attempts must be >= 1, got %d", ErrInvalid, c.SessionAttempts)
	}
	if c.Parallel < 1 {
		return fmt.Errorf("%w: parallel must be >= 1, got %d", ErrInvalid, c.Parallel)
	}

	switch c.Probe.Driver {
	case DriverBLE:
	case DriverCommand:
		if len(c.Probe.Command) == 0 {
			return fmt.Errorf("%w: probe.command is required for the command driver", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown probe.driver %q", ErrInvalid, c.Probe.Driver)
	}

	switch c.ModeSwitch.Driver {
	case DriverBLE:
	case DriverCommand:
		if len(c.ModeSwitch.Command) == 0 {
			return fmt.Errorf("%w: mode_switch.command is required for the command driver", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown mode_switch.driver %q", ErrInvalid, c.ModeSwitch.Driver)
	}

	if len(c.Transfer.Command) == 0 {
		return fmt.Errorf("%w: transfer.command is required", ErrInvalid)
	}

	switch c.Tracing.Exporter {
	case ExporterNone, ExporterNoop, ExporterStdout:
	default:
		return fmt.Errorf("%w: unknown tracing.exporter %q", ErrInvalid, c.Tracing.Exporter)
	}

	if c.Link.ProbeRate < 0 {
		return fmt.Errorf("%w: link.probe_rate must be >= 0", ErrInvalid)
	}

	// Policies are validated with the first pairing; they are shared.
	if err := c.SequencerConfig(pairings[0]).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Pairings returns every pairing to update: the fleet when one is
// configured, otherwise the single device.
func (c *Config) Pairings() []device.Pairing {
	if len(c.Fleet) > 0 {
		out := make([]device.Pairing, len(c.Fleet))
		for i, p := range c.Fleet {
			out[i] = p.Pairing()
		}
		return out
	}
	if c.Device.Application == "" && c.Device.Bootloader == "" {
		return nil
	}
	return []device.Pairing{c.Device.Pairing()}
}

// Timing returns the sequencer timing options.
func (c *Config) Timing() sequencer.Timing {
	return sequencer.Timing{
		MaxAttempts:           c.Retry.MaxAttempts,
		PollInterval:          c.Retry.PollInterval,
		ProbeTimeout:          c.Retry.ProbeTimeout,
		BootloaderWaitTimeout: c.Retry.BootloaderWaitTimeout,
		PostCheckTimeout:      c.Retry.PostCheckTimeout,
		BackoffMultiplier:     c.Retry.BackoffMultiplier,
		MaxInterval:           c.Retry.MaxInterval,
		ModeSwitchTimeout:     c.ModeSwitch.Timeout,
		TransferTimeout:       c.Transfer.Timeout,
	}
}

// SequencerConfig builds the sequencer configuration for pairing. The
// package is referenced by path only; callers that need its images open
// it with device.OpenPackage.
func (c *Config) SequencerConfig(pairing device.Pairing) sequencer.Config {
	return sequencer.NewConfig(pairing, device.Package{Path: c.Package}, c.Timing())
}
