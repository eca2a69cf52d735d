package tool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/bledfu/internal/device"
)

// Transferer runs the external DFU transfer tool once per call. Exit code
// 0 is success; anything else fails with the tail of stderr.
type Transferer struct {
	Args   []string
	Logger *slog.Logger
}

func (t *Transferer) Transfer(ctx context.Context, id device.Identity, pkg device.Package) device.TransferResult {
	logger := t.Logger
	if logger == nil {
		logger = discard()
	}

	logger.Info("transfer started", "address", id.Address, "package", pkg.String())
	r := execute(ctx, logger, Expand(t.Args, id, pkg.Path))
	if r.err == nil {
		return device.TransferOK()
	}
	if r.timedOut(ctx) {
		return device.TransferFailed(fmt.Errorf("transfer timed out: %w", ctx.Err()))
	}
	return device.TransferFailed(fmt.Errorf("transfer to %s: %w", id, r.failure()))
}

var _ device.Transferer = (*Transferer)(nil)
