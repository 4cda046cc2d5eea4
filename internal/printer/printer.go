package printer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// SerialLink is a Link over a serial port, which is how RFCOMM and
// Bluetooth SPP printers appear to the OS
type SerialLink struct {
	port     serial.Port
	portName string
	log      *zap.Logger

	// ready reports whether the OS device node still exists
	ready func() bool
	// release tears down whatever created the port, e.g. an rfcomm binding
	release func() error

	writeMu sync.Mutex

	mu           sync.Mutex
	closed       bool
	lost         error
	onDisconnect []func(error)
}

// OpenSerial opens portName at the given baud rate, 8N1
func OpenSerial(portName string, baudRate int, logger *zap.Logger) (*SerialLink, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(3 * time.Second); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to configure port %s: %w", portName, err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &SerialLink{
		port:     port,
		portName: portName,
		log:      logger.With(zap.String("port", portName)),
		ready:    func() bool { return true },
	}, nil
}

// PortName returns the OS name of the port
func (l *SerialLink) PortName() string {
	return l.portName
}

// Write sends p and waits for the OS to drain it to the device
func (l *SerialLink) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.usable(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		// A write abandoned by a cancelled caller still finishes before the
		// next one starts, so jobs never interleave on the wire.
		l.writeMu.Lock()
		defer l.writeMu.Unlock()
		done <- l.write(p)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *SerialLink) write(p []byte) error {
	n, err := l.port.Write(p)
	if err == nil && n < len(p) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(p))
	}
	if err == nil {
		err = l.port.Drain()
	}
	if err == nil {
		l.log.Debug("wrote to printer", zap.Int("bytes", n))
		return nil
	}

	if !l.ready() {
		l.lose(err)
		return &TransportError{Kind: LinkLost, Err: err}
	}
	return &TransportError{Kind: WriteFailed, Err: err}
}

func (l *SerialLink) usable() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return &TransportError{Kind: LinkLost, Err: fmt.Errorf("port %s closed", l.portName)}
	}
	if l.lost != nil {
		return &TransportError{Kind: LinkLost, Err: l.lost}
	}
	return nil
}

// OnDisconnect registers fn to be called when the link drops
func (l *SerialLink) OnDisconnect(fn func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onDisconnect = append(l.onDisconnect, fn)
}

// lose marks the link dead and notifies listeners once
func (l *SerialLink) lose(cause error) {
	l.mu.Lock()
	if l.closed || l.lost != nil {
		l.mu.Unlock()
		return
	}
	l.lost = cause
	handlers := l.onDisconnect
	l.mu.Unlock()

	l.log.Warn("printer link lost", zap.Error(cause))
	for _, fn := range handlers {
		fn(cause)
	}
}

// Alive reports whether the port can still be written to
func (l *SerialLink) Alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed && l.lost == nil && l.ready()
}

// Close closes the port and releases the underlying binding
func (l *SerialLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	err := l.port.Close()
	if l.release != nil {
		if rerr := l.release(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}
