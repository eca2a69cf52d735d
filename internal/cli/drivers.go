package cli

import (
	"fmt"
	"log/slog"

	"github.com/roach88/bledfu/internal/blelink"
	"github.com/roach88/bledfu/internal/config"
	"github.com/roach88/bledfu/internal/device"
	"github.com/roach88/bledfu/internal/link"
	"github.com/roach88/bledfu/internal/tool"
)

// collaborators are the link drivers shared by every session of a process.
type collaborators struct {
	prober     device.Prober
	switcher   device.ModeSwitcher
	transferer device.Transferer
}

// buildCollaborators wires the configured drivers into
// Serialize(Limit(Breaker(driver))). One set serves every pairing so that
// the radio, the probe rate and the breakers are shared across a fleet.
func buildCollaborators(cfg *config.Config, locks *link.Locks, logger *slog.Logger) (collaborators, error) {
	var radio *blelink.Link
	ble := func() *blelink.Link {
		if radio == nil {
			radio = blelink.Open(cfg.Link.Adapter, logger)
			radio.ReadFirmware = true
		}
		return radio
	}

	var prober device.Prober
	switch cfg.Probe.Driver {
	case config.DriverBLE:
		prober = ble()
	case config.DriverCommand:
		prober = &tool.Prober{
			Args:                 cfg.Probe.Command,
			UnreachableExitCodes: cfg.Probe.UnreachableExitCodes,
			Logger:               logger,
		}
	default:
		return collaborators{}, fmt.Errorf("unknown probe driver %q", cfg.Probe.Driver)
	}

	var switcher device.ModeSwitcher
	switch cfg.ModeSwitch.Driver {
	case config.DriverBLE:
		switcher = ble()
	case config.DriverCommand:
		switcher = &tool.Switcher{Args: cfg.ModeSwitch.Command, Logger: logger}
	default:
		return collaborators{}, fmt.Errorf("unknown mode switch driver %q", cfg.ModeSwitch.Driver)
	}

	transferer := &tool.Transferer{Args: cfg.Transfer.Command, Logger: logger}

	breaker := link.BreakerConfig{
		MaxFailures: cfg.Link.BreakerMaxFailures,
		Timeout:     cfg.Link.BreakerTimeout,
	}
	prober = link.NewLimitedProber(link.NewBreakerProber("probe", prober, breaker, logger), cfg.Link.ProbeRate)
	switcher = link.NewBreakerSwitcher("mode_switch", switcher, breaker, logger)

	p, s, t := link.Serialize(locks, prober, switcher, transferer)
	return collaborators{prober: p, switcher: s, transferer: t}, nil
}
