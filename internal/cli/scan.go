package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/bledfu/internal/blelink"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	Timeout time.Duration
	Adapter string
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List nearby DFU-capable devices",
		Long: `Scan for devices advertising the Nordic DFU service.

Each device is listed once with its strongest signal, sorted by RSSI.

Examples:
  bledfu scan
  bledfu scan --timeout 30s --adapter hci1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "how long to scan")
	cmd.Flags().StringVar(&opts.Adapter, "adapter", "", "Bluetooth adapter (overrides link.adapter)")

	return cmd
}

func runScan(opts *ScanOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	if opts.Timeout <= 0 {
		return NewExitError(ExitCommandError, "--timeout must be positive")
	}
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	adapter := cfg.Link.Adapter
	if opts.Adapter != "" {
		adapter = opts.Adapter
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	found, err := blelink.Open(adapter, logger).ScanDFU(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "scan failed", err)
	}
	return writeScan(opts.RootOptions, cmd, found)
}

func writeScan(opts *RootOptions, cmd *cobra.Command, found []blelink.Found) error {
	w := cmd.OutOrStdout()
	if found == nil {
		found = []blelink.Found{}
	}

	if opts.Format == "json" {
		f := &OutputFormatter{Format: "json", Writer: w}
		return f.Success(found)
	}

	if len(found) == 0 {
		fmt.Fprintln(w, "No DFU devices found.")
		return nil
	}
	for _, d := range found {
		name := d.Name
		if name == "" {
			name = dimColor.Sprint("(no name)")
		}
		fmt.Fprintf(w, "%-20s %4d dBm  %-10s %s\n", d.Address, d.RSSI, d.Match, name)
	}
	fmt.Fprintf(w, "\n%d device(s) found\n", len(found))
	return nil
}
