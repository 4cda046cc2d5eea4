// Package printertest provides in-memory transports for tests
package printertest

import (
	"context"
	"sync"
	"time"

	"btlabel/internal/printer"
)

// Discoverer yields a fixed device list
type Discoverer struct {
	RadioErr error
	// RadioHold blocks RadioReady until ctx ends
	RadioHold bool
	Devices  []printer.Device
	// Interval between devices
	Interval time.Duration
	// Hold keeps discovery running until ctx ends once the list is exhausted
	Hold bool
}

func (d *Discoverer) RadioReady(ctx context.Context) error {
	if d.RadioErr != nil {
		return d.RadioErr
	}
	if d.RadioHold {
		<-ctx.Done()
	}
	return ctx.Err()
}

func (d *Discoverer) Discover(ctx context.Context, found func(printer.Device) bool) error {
	for _, dev := range d.Devices {
		if d.Interval > 0 {
			select {
			case <-time.After(d.Interval):
			case <-ctx.Done():
				return nil
			}
		}
		if !found(dev) {
			return nil
		}
	}
	if d.Hold {
		<-ctx.Done()
	}
	return nil
}

// Dialer hands out Links. When Gate is set, Dial blocks until a value is
// received from it or ctx ends.
type Dialer struct {
	Err  error
	Gate chan struct{}

	mu    sync.Mutex
	links []*Link
	dials int
}

func (d *Dialer) Dial(ctx context.Context, dev printer.Device) (printer.Link, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()

	if d.Gate != nil {
		select {
		case <-d.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.Err != nil {
		return nil, d.Err
	}

	link := NewLink()
	link.Device = dev
	d.mu.Lock()
	d.links = append(d.links, link)
	d.mu.Unlock()
	return link, nil
}

// Dials returns how many times Dial was called
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Last returns the most recently dialed link, or nil
func (d *Dialer) Last() *Link {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.links) == 0 {
		return nil
	}
	return d.links[len(d.links)-1]
}

// Link records writes. Hook, when set, runs before each write is recorded;
// a non-nil return fails the write.
type Link struct {
	Device printer.Device
	Hook   func(ctx context.Context, p []byte) error

	mu           sync.Mutex
	writes       [][]byte
	closed       bool
	dropped      bool
	onDisconnect []func(error)
}

func NewLink() *Link {
	return &Link{}
}

func (l *Link) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	dead := l.closed || l.dropped
	hook := l.Hook
	l.mu.Unlock()
	if dead {
		return &printer.TransportError{Kind: printer.LinkLost}
	}

	if hook != nil {
		if err := hook(ctx, p); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes = append(l.writes, append([]byte(nil), p...))
	return nil
}

func (l *Link) OnDisconnect(fn func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onDisconnect = append(l.onDisconnect, fn)
}

// Drop simulates the printer going away
func (l *Link) Drop(cause error) {
	l.mu.Lock()
	if l.dropped || l.closed {
		l.mu.Unlock()
		return
	}
	l.dropped = true
	handlers := l.onDisconnect
	l.mu.Unlock()

	for _, fn := range handlers {
		fn(cause)
	}
}

func (l *Link) Alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed && !l.dropped
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Closed reports whether Close was called
func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Writes returns a copy of everything written so far
func (l *Link) Writes() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.writes...)
}
