package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/bledfu/internal/config"
	"github.com/roach88/bledfu/internal/device"
	"github.com/roach88/bledfu/internal/link"
	"github.com/roach88/bledfu/internal/sequencer"
	"github.com/roach88/bledfu/internal/store"
	"github.com/roach88/bledfu/internal/tracing"
)

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	All             bool
	Application     string
	Bootloader      string
	Package         string
	Journal         string
	SessionAttempts int
	Parallel        int

	// build overrides the collaborators (for testing). If nil, they are
	// built from the configured drivers.
	build func(cfg *config.Config, locks *link.Locks, logger *slog.Logger) (collaborators, error)

	// seqOpts are appended to every sequencer (for testing).
	seqOpts []sequencer.Option
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	return newUpdateCommand(&UpdateOptions{RootOptions: rootOpts})
}

func newUpdateCommand(opts *UpdateOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update device firmware",
		Long: `Run an update session for the configured pairing.

Flags override the matching configuration keys. With --all every pairing
listed under fleet is updated, at most --parallel at a time.

Exit codes:
  0 - Every update succeeded
  1 - One or more updates failed
  2 - Command error (invalid config, package not found, etc.)
  3 - Firmware was written but the device did not come back

Examples:
  bledfu update -c bledfu.yaml
  bledfu update -c bledfu.yaml --package ./app_v2.zip
  bledfu update -c fleet.yaml --all --parallel 4 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "update every pairing in the fleet")
	cmd.Flags().StringVar(&opts.Application, "application", "", "application address (overrides device.application)")
	cmd.Flags().StringVar(&opts.Bootloader, "bootloader", "", "bootloader address (overrides device.bootloader)")
	cmd.Flags().StringVar(&opts.Package, "package", "", "firmware package (overrides package)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "SQLite journal path (overrides journal)")
	cmd.Flags().IntVar(&opts.SessionAttempts, "session-attempts", 0, "sessions to run for retryable failures (overrides session_attempts)")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 0, "concurrent fleet updates (overrides parallel)")

	return cmd
}

// loadConfig reads --config, or returns the defaults when it is unset.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func (opts *UpdateOptions) apply(cfg *config.Config) {
	if opts.Application != "" {
		cfg.Device.Application = opts.Application
	}
	if opts.Bootloader != "" {
		cfg.Device.Bootloader = opts.Bootloader
	}
	if opts.Package != "" {
		cfg.Package = opts.Package
	}
	if opts.Journal != "" {
		cfg.Journal = opts.Journal
	}
	if opts.SessionAttempts > 0 {
		cfg.SessionAttempts = opts.SessionAttempts
	}
	if opts.Parallel > 0 {
		cfg.Parallel = opts.Parallel
	}
	if !opts.All {
		cfg.Fleet = nil
	}
}

func runUpdate(opts *UpdateOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	opts.apply(cfg)
	if opts.All && len(cfg.Fleet) == 0 {
		return NewExitError(ExitCommandError, "--all requires a fleet in the config")
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	pkg, err := device.OpenPackage(cfg.Package)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open package", err)
	}
	logger.Info("package ready", "path", pkg.Path, "size", pkg.Size, "images", pkg.Images)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	observers, closeObservers, err := openObservers(ctx, cfg, cmd.ErrOrStderr(), logger)
	if err != nil {
		return err
	}
	defer closeObservers()

	build := opts.build
	if build == nil {
		build = buildCollaborators
	}
	collab, err := build(cfg, &link.Locks{}, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up link drivers", err)
	}

	pairings := cfg.Pairings()
	results := make([][]*sequencer.Result, len(pairings))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Parallel)
	for i, pairing := range pairings {
		seqCfg := cfg.SequencerConfig(pairing)
		seqCfg.Package = pkg

		seqOpts := []sequencer.Option{sequencer.WithLogger(logger)}
		for _, o := range observers {
			seqOpts = append(seqOpts, sequencer.WithObserver(o))
		}
		seqOpts = append(seqOpts, opts.seqOpts...)

		seq, err := sequencer.New(seqCfg, collab.prober, collab.switcher, collab.transferer, seqOpts...)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("pairing %s", pairing), err)
		}

		g.Go(func() error {
			// Sessions report failure in their Result; gctx ends only with ctx.
			results[i] = seq.RunAttempts(gctx, cfg.SessionAttempts)
			return nil
		})
	}
	_ = g.Wait()

	report := &UpdateReport{}
	for _, r := range results {
		report.add(r)
	}
	return writeUpdateReport(opts.RootOptions, cmd.OutOrStdout(), report)
}

func writeUpdateReport(opts *RootOptions, w io.Writer, report *UpdateReport) error {
	exitErr := report.exitError()

	if opts.Format == "json" {
		f := &OutputFormatter{Format: "json", Writer: w}
		var cliErr *CLIError
		if exitErr != nil {
			code := CodeUpdateFailed
			if exitErr.Code == ExitAmbiguous {
				code = CodeAmbiguous
			}
			cliErr = &CLIError{Code: code, Message: exitErr.Message}
		}
		if err := f.Respond(report, cliErr); err != nil {
			return err
		}
	} else {
		report.writeText(w)
	}

	if exitErr != nil {
		return exitErr
	}
	return nil
}

// openObservers opens the journal and the tracer configured in cfg. The
// returned function flushes and closes both.
func openObservers(ctx context.Context, cfg *config.Config, traceOut io.Writer, logger *slog.Logger) ([]sequencer.Observer, func(), error) {
	var (
		observers []sequencer.Observer
		closers   []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Journal != "" {
		st, err := store.Open(cfg.Journal)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		journal := store.NewJournal(st, logger)
		observers = append(observers, journal)
		closers = append(closers, func() {
			if err := journal.Err(); err != nil {
				logger.Warn("journal incomplete", "error", err)
			}
			if err := st.Close(); err != nil {
				logger.Error("error closing journal", "error", err)
			}
		})
	}

	if cfg.Tracing.Exporter != config.ExporterNone {
		tp, shutdown, err := tracing.Setup(ctx, cfg.Tracing.Exporter, traceOut)
		if err != nil {
			closeAll()
			return nil, nil, WrapExitError(ExitCommandError, "failed to set up tracing", err)
		}
		observers = append(observers, tracing.NewObserver(tracing.Tracer(tp)))
		closers = append(closers, func() {
			// ctx may already be cancelled by a signal; spans still flush.
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Error("error flushing traces", "error", err)
			}
		})
	}

	return observers, closeAll, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
// A second signal is left to the default handler.
func signalContext(parent context.Context) (context.Context, func()) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var once sync.Once
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, cancelling", "signal", sig)
			cancel()
			signal.Stop(sigChan)
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigChan)
			cancel()
		})
	}
}
