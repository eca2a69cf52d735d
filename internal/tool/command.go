package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/roach88/bledfu/internal/device"
)

// waitDelay bounds how long a killed command may hold its output pipes.
const waitDelay = 2 * time.Second

// maxDetail is the longest stderr excerpt carried into results.
const maxDetail = 512

// ErrNoCommand is returned when a command line is empty.
var ErrNoCommand = errors.New("command is required")

// Expand substitutes placeholders in args.
func Expand(args []string, id device.Identity, pkg string) []string {
	r := strings.NewReplacer(
		"{address}", id.Address,
		"{role}", string(id.Role),
		"{package}", pkg,
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

// run is the outcome of one command invocation.
type run struct {
	stdout   []byte
	stderr   string
	exitCode int
	err      error
}

// timedOut reports whether ctx's deadline killed the command.
func (r run) timedOut(ctx context.Context) bool {
	return r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func (r run) failure() error {
	if r.stderr != "" {
		return fmt.Errorf("%w: %s", r.err, r.stderr)
	}
	return r.err
}

func execute(ctx context.Context, logger *slog.Logger, args []string) run {
	if len(args) == 0 {
		return run{exitCode: -1, err: ErrNoCommand}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	res := run{
		stdout:   stdout.Bytes(),
		stderr:   excerpt(stderr.String()),
		exitCode: cmd.ProcessState.ExitCode(),
		err:      err,
	}
	logger.Debug("command finished",
		"command", args[0],
		"exit_code", res.exitCode,
		"elapsed", time.Since(start),
	)
	return res
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxDetail {
		return s
	}
	cut := len(s) - maxDetail
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "..." + s[cut:]
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
