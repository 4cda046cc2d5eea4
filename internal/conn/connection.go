package conn

import (
	"context"
	"errors"
	"time"

	"btlabel/internal/printer"
)

var errConnectionClosed = errors.New("connection is no longer current")

// Connection is the one live session the Manager owns. Once the manager
// drops it, every write fails with TransportError{LinkLost}.
type Connection struct {
	device      printer.Device
	link        printer.Link
	mgr         *Manager
	ConnectedAt time.Time
}

// Device returns the device this connection was opened to
func (c *Connection) Device() printer.Device {
	return c.device
}

// Valid reports whether c is still the manager's current connection
func (c *Connection) Valid() bool {
	return c.mgr.Current() == c
}

// Write sends p over the link. Errors other than ctx ending are always
// *printer.TransportError.
func (c *Connection) Write(ctx context.Context, p []byte) error {
	if !c.Valid() {
		return &printer.TransportError{Kind: printer.LinkLost, Err: errConnectionClosed}
	}

	err := c.link.Write(ctx, p)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	var te *printer.TransportError
	if errors.As(err, &te) {
		return err
	}
	return &printer.TransportError{Kind: printer.WriteFailed, Err: err}
}
