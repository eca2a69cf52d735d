package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/bledfu/internal/device"
	"github.com/roach88/bledfu/internal/link"
)

// ProbeOptions holds flags for the probe command.
type ProbeOptions struct {
	*RootOptions
	Role string
}

// ProbeReport is the outcome of a single probe.
type ProbeReport struct {
	Address  string           `json:"address"`
	Role     string           `json:"role"`
	Result   string           `json:"result"`
	Metadata *device.Metadata `json:"metadata,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// NewProbeCommand creates the probe command.
func NewProbeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProbeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "probe <address>",
		Short: "Check whether a device identity is reachable",
		Long: `Probe one address once with the configured probe driver.

The probe is bounded by retry.probe_timeout.

Exit codes:
  0 - Reachable
  1 - Unreachable, or the probe failed
  2 - Command error

Examples:
  bledfu probe C8:4F:2A:10:00:01
  bledfu probe -c bledfu.yaml --role bootloader C8:4F:2A:10:00:02`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Role, "role", string(device.RoleApplication), "identity role (application|bootloader)")

	return cmd
}

func runProbe(opts *ProbeOptions, address string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	role := device.Role(opts.Role)
	if !role.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid role %q", opts.Role))
	}
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	collab, err := buildCollaborators(cfg, &link.Locks{}, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up link drivers", err)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	if d := cfg.Retry.ProbeTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	id := device.NewIdentity(address, role)
	res := collab.prober.Probe(ctx, id)
	return writeProbeReport(opts.RootOptions, cmd, newProbeReport(id, res))
}

func newProbeReport(id device.Identity, res device.ProbeResult) ProbeReport {
	r := ProbeReport{
		Address: id.Address,
		Role:    string(id.Role),
		Result:  res.Kind().String(),
	}
	if res.IsReachable() {
		meta := res.Metadata()
		r.Metadata = &meta
	}
	if err := res.Cause(); err != nil {
		r.Error = err.Error()
	}
	return r
}

func writeProbeReport(opts *RootOptions, cmd *cobra.Command, r ProbeReport) error {
	w := cmd.OutOrStdout()
	reachable := r.Result == device.KindReachable.String()

	if opts.Format == "json" {
		f := &OutputFormatter{Format: "json", Writer: w}
		if err := f.Success(r); err != nil {
			return err
		}
	} else {
		mark := okColor.Sprint("✓")
		if !reachable {
			mark = failColor.Sprint("✗")
		}
		fmt.Fprintf(w, "%s %s (%s) %s\n", mark, r.Address, r.Role, r.Result)
		if m := r.Metadata; m != nil {
			if m.Name != "" {
				fmt.Fprintf(w, "  name      %s\n", m.Name)
			}
			if m.FirmwareVersion != "" {
				fmt.Fprintf(w, "  firmware  %s\n", m.FirmwareVersion)
			}
			if m.RSSI != 0 {
				fmt.Fprintf(w, "  rssi      %d\n", m.RSSI)
			}
		}
		if r.Error != "" {
			fmt.Fprintf(w, "  error     %s\n", r.Error)
		}
	}

	if !reachable {
		return NewExitError(ExitFailure, fmt.Sprintf("%s is %s", r.Address, r.Result))
	}
	return nil
}
