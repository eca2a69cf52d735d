package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/bledfu/internal/sequencer"
	"github.com/roach88/bledfu/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Journal string
	Session string
	Address string
	Limit   int
}

// SessionDetail is one journaled session with its phases.
type SessionDetail struct {
	Session store.SessionRecord `json:"session"`
	Phases  []store.PhaseRecord `json:"phases"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled update sessions",
		Long: `List sessions recorded in the SQLite journal, newest first, or show
one session with its phase outcomes.

Examples:
  bledfu history --journal ./bledfu.db
  bledfu history -c bledfu.yaml --address C8:4F:2A:10:00:01 --limit 5
  bledfu history --journal ./bledfu.db --session 0191c0de-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "SQLite journal path (overrides journal)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "show one session")
	cmd.Flags().StringVar(&opts.Address, "address", "", "only sessions for this address")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum sessions to list (0 for all)")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	path := opts.Journal
	if path == "" && opts.Config != "" {
		cfg, err := loadConfig(opts.Config)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		path = cfg.Journal
	}
	if path == "" {
		return NewExitError(ExitCommandError, "no journal: pass --journal or a config with journal set")
	}
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must be >= 0")
	}

	st, err := store.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.Session != "" {
		rec, phases, err := st.GetSession(ctx, opts.Session)
		if errors.Is(err, store.ErrNotFound) {
			return NewExitError(ExitFailure, fmt.Sprintf("session %s not found", opts.Session))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		return writeSessionDetail(opts.RootOptions, cmd, SessionDetail{Session: rec, Phases: phases})
	}

	recs, err := st.ListSessions(ctx, store.Filter{Address: opts.Address, Limit: opts.Limit})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	return writeSessionList(opts.RootOptions, cmd, recs)
}

func writeSessionList(opts *RootOptions, cmd *cobra.Command, recs []store.SessionRecord) error {
	w := cmd.OutOrStdout()
	if recs == nil {
		recs = []store.SessionRecord{}
	}
	if opts.Format == "json" {
		f := &OutputFormatter{Format: "json", Writer: w}
		return f.Success(recs)
	}

	if len(recs) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return nil
	}
	for _, r := range recs {
		fmt.Fprintf(w, "%s  %s  %s -> %s  %s", r.StartedAt.Format("2006-01-02 15:04:05"), r.ID, r.Application, r.Bootloader, stateText(r.State))
		if r.Cause != "" {
			fmt.Fprintf(w, "  %s in %s", r.Cause, r.FailedPhase)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func writeSessionDetail(opts *RootOptions, cmd *cobra.Command, d SessionDetail) error {
	w := cmd.OutOrStdout()
	if d.Phases == nil {
		d.Phases = []store.PhaseRecord{}
	}
	if opts.Format == "json" {
		f := &OutputFormatter{Format: "json", Writer: w}
		return f.Success(d)
	}

	r := d.Session
	fmt.Fprintf(w, "session   %s\n", r.ID)
	fmt.Fprintf(w, "pairing   %s -> %s\n", r.Application, r.Bootloader)
	fmt.Fprintf(w, "package   %s\n", r.Package)
	fmt.Fprintf(w, "started   %s\n", r.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "state     %s (%s)\n", stateText(r.State), r.Elapsed)
	if r.FirmwareBefore != "" || r.FirmwareAfter != "" {
		fmt.Fprintf(w, "firmware  %s -> %s\n", orUnknown(r.FirmwareBefore), orUnknown(r.FirmwareAfter))
	}
	if r.Cause != "" {
		fmt.Fprintf(w, "cause     %s in %s: %s\n", r.Cause, r.FailedPhase, r.Error)
	}
	if r.FirmwareWritten && r.State != string(sequencer.StateSucceeded) {
		warnColor.Fprintln(w, "firmware was written during this session")
	}
	for _, p := range d.Phases {
		fmt.Fprintf(w, "  %-16s %-9s attempts=%d  %s", p.Phase, p.Status, p.Attempts, p.Elapsed)
		if p.Detail != "" {
			fmt.Fprintf(w, "  %s", p.Detail)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func stateText(state string) string {
	switch state {
	case string(sequencer.StateSucceeded):
		return okColor.Sprint(state)
	case string(sequencer.StateFailed):
		return failColor.Sprint(state)
	default:
		return warnColor.Sprint(state)
	}
}
