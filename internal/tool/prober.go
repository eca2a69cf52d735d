package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/bledfu/internal/device"
)

// Prober checks reachability by running a command.
//
// Exit code 0 means reachable; stdout may carry a JSON object with the
// device's metadata. Exit codes listed in UnreachableExitCodes, and
// commands killed by the probe deadline, mean unreachable. Anything else
// is a probe error.
type Prober struct {
	Args                 []string
	UnreachableExitCodes []int
	Logger               *slog.Logger
}

// probeOutput is the JSON a probe command may print.
type probeOutput struct {
	Name            string            `json:"name"`
	FirmwareVersion string            `json:"firmware_version"`
	Mode            string            `json:"mode"`
	RSSI            int               `json:"rssi"`
	Extra           map[string]string `json:"extra"`
}

func (p *Prober) Probe(ctx context.Context, id device.Identity) device.ProbeResult {
	logger := p.Logger
	if logger == nil {
		logger = discard()
	}

	r := execute(ctx, logger, Expand(p.Args, id, ""))
	switch {
	case r.err == nil:
		meta, err := parseMetadata(r.stdout)
		if err != nil {
			return device.ProbeError(err)
		}
		return device.Reachable(meta)
	case r.timedOut(ctx):
		return device.Unreachable()
	case slices.Contains(p.UnreachableExitCodes, r.exitCode):
		return device.Unreachable()
	default:
		return device.ProbeError(fmt.Errorf("probe %s: %w", id, r.failure()))
	}
}

func parseMetadata(stdout []byte) (device.Metadata, error) {
	stdout = bytes.TrimSpace(stdout)
	if len(stdout) == 0 {
		return device.Metadata{}, nil
	}
	var out probeOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		return device.Metadata{}, fmt.Errorf("probe output is not a JSON object: %w", err)
	}
	return device.Metadata{
		Name:            out.Name,
		FirmwareVersion: out.FirmwareVersion,
		Mode:            out.Mode,
		RSSI:            out.RSSI,
		Extra:           out.Extra,
	}, nil
}

var _ device.Prober = (*Prober)(nil)
