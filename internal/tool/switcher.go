package tool

import (
	"context"
	"log/slog"
	"strings"

	"github.com/roach88/bledfu/internal/device"
)

// Switcher issues the mode switch by running a command. Exit code 0 is an
// acknowledgement, a non-zero exit is a rejection, and a command killed by
// the deadline timed out.
type Switcher struct {
	Args   []string
	Logger *slog.Logger
}

func (s *Switcher) SwitchMode(ctx context.Context, id device.Identity) device.ModeSwitchResult {
	logger := s.Logger
	if logger == nil {
		logger = discard()
	}

	r := execute(ctx, logger, Expand(s.Args, id, ""))
	switch {
	case r.err == nil:
		return device.ModeSwitchResult{Ack: device.Acknowledged, Detail: excerpt(string(r.stdout))}
	case r.timedOut(ctx):
		return device.ModeSwitchResult{Ack: device.TimedOut, Detail: "command timed out"}
	default:
		detail := r.stderr
		if detail == "" {
			detail = strings.TrimSpace(r.err.Error())
		}
		return device.ModeSwitchResult{Ack: device.Rejected, Detail: detail}
	}
}

var _ device.ModeSwitcher = (*Switcher)(nil)
