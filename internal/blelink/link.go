package blelink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// stopRetry is how often a pending scan is asked to stop after its context
// ended.
const stopRetry = 50 * time.Millisecond

// Link is one Bluetooth adapter.
//
// Thread-safety: all methods are safe for concurrent use; radio operations
// are serialised.
type Link struct {
	adapter *bluetooth.Adapter
	name    string
	logger  *slog.Logger

	// ReadFirmware makes Probe connect to reachable application identities
	// and read the Device Information firmware revision.
	ReadFirmware bool

	radio      chan struct{}
	enableOnce sync.Once
	enableErr  error
}

// Open returns a Link on the named adapter ("" for the default). The
// adapter is enabled on first use.
func Open(adapterID string, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	name := adapterID
	if name == "" {
		name = "default"
	}
	return &Link{
		adapter: newAdapter(adapterID),
		name:    name,
		logger:  logger.With("adapter", name),
		radio:   make(chan struct{}, 1),
	}
}

// acquire takes the radio, giving up when ctx ends.
func (l *Link) acquire(ctx context.Context) error {
	select {
	case l.radio <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Link) release() {
	<-l.radio
}

// Name returns the adapter name.
func (l *Link) Name() string {
	return l.name
}

func (l *Link) enable() error {
	l.enableOnce.Do(func() {
		if err := l.adapter.Enable(); err != nil {
			l.enableErr = fmt.Errorf("enable adapter %s: %w", l.name, err)
		}
	})
	return l.enableErr
}

// scan runs one scan until visit returns true or ctx ends. Callers hold the radio.
func (l *Link) scan(ctx context.Context, visit func(bluetooth.ScanResult) bool) error {
	if err := l.enable(); err != nil {
		return err
	}

	var stopOnce sync.Once
	done := make(chan error, 1)
	go func() {
		done <- l.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if visit(r) {
				stopOnce.Do(func() { _ = a.StopScan() })
			}
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	// StopScan fails while the scan is still starting up, so keep asking.
	for {
		_ = l.adapter.StopScan()
		select {
		case <-done:
			return ctx.Err()
		case <-time.After(stopRetry):
		}
	}
}

// find scans for address. A scan that ends without seeing it reports the
// context error.
func (l *Link) find(ctx context.Context, address string) (bluetooth.ScanResult, error) {
	var found bluetooth.ScanResult
	var ok bool
	err := l.scan(ctx, func(r bluetooth.ScanResult) bool {
		if !sameAddress(r.Address.String(), address) {
			return false
		}
		found, ok = r, true
		return true
	})
	if ok {
		return found, nil
	}
	if err == nil {
		err = errors.New("scan stopped")
	}
	return found, err
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
