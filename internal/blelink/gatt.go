package blelink

import (
	"context"
	"errors"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// maxConnectTimeout is the longest connection timeout ConnectionParams can
// carry (a 16-bit count of 625µs units).
const maxConnectTimeout = 65535 * 625 * time.Microsecond

var errAborted = errors.New("gatt exchange aborted")

// conn tracks the device a GATT exchange connected to so that an exchange
// abandoned by its caller can be disconnected from outside.
type conn struct {
	link *Link

	mu         sync.Mutex
	disconnect func()
	closed     bool
}

// connect connects to addr with a connection timeout derived from ctx.
func (c *conn) connect(ctx context.Context, addr bluetooth.Address) (bluetooth.Device, error) {
	dev, err := c.link.adapter.Connect(addr, connectParams(ctx))
	if err != nil {
		return dev, err
	}
	if !c.hold(func() { _ = dev.Disconnect() }) {
		return dev, errAborted
	}
	return dev, nil
}

// hold registers the disconnect of a live connection. It reports false, after
// disconnecting, when the exchange was already closed.
func (c *conn) hold(disconnect func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		disconnect()
		return false
	}
	c.disconnect = disconnect
	return true
}

// close disconnects the held connection once.
func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.disconnect != nil {
		c.disconnect()
	}
}

// gatt runs fn, a sequence of blocking GATT calls, until it returns or ctx
// ends. The caller must hold the radio; gatt hands it to fn's goroutine,
// which releases it when fn returns. When ctx ends first the connection is
// torn down, so the pending call fails, and ctx's error is returned.
func gatt[T any](ctx context.Context, l *Link, fn func(c *conn) (T, error)) (T, error) {
	c := &conn{link: l}
	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer l.release()
		defer c.close()
		v, err := fn(c)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.v, o.err
	case <-ctx.Done():
		c.close()
		var zero T
		return zero, ctx.Err()
	}
}

// connectParams bounds the connection attempt by ctx's deadline.
func connectParams(ctx context.Context) bluetooth.ConnectionParams {
	deadline, ok := ctx.Deadline()
	if !ok {
		return bluetooth.ConnectionParams{}
	}
	remaining := time.Until(deadline)
	if remaining > maxConnectTimeout {
		remaining = maxConnectTimeout
	}
	if remaining < time.Millisecond {
		remaining = time.Millisecond
	}
	return bluetooth.ConnectionParams{ConnectionTimeout: bluetooth.NewDuration(remaining)}
}
