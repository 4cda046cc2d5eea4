// Package conn owns printer discovery and the single live connection.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"btlabel/internal/printer"
)

var ErrTimeoutRequired = errors.New("scan and connect timeouts must be set")

// Options configures a Manager. Both timeouts are required.
type Options struct {
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	Logger         *zap.Logger
	// OnStateChange is called after every transition, outside the
	// manager's lock, so it may call back into the manager.
	OnStateChange func(from, to State)
}

// ScanOptions narrows one scan. A zero Timeout uses the manager's.
type ScanOptions struct {
	Filter  string
	Timeout time.Duration
}

// ConnectOptions tunes one connection attempt. A zero Timeout uses the
// manager's.
type ConnectOptions struct {
	Timeout time.Duration
}

type transition struct {
	from, to State
}

// Manager runs the discovery/connection state machine. All transitions
// happen under mu, which is never held across I/O, so State never blocks
// and a second Connect sees Connecting and fails fast.
type Manager struct {
	discoverer printer.Discoverer
	dialer     printer.Dialer
	opts       Options
	log        *zap.Logger

	mu            sync.Mutex
	state         State
	current       *Connection
	scanID        uint64
	scanCancel    context.CancelFunc
	attempt       uint64
	connectCancel context.CancelFunc
	pending       []transition
}

func New(d printer.Discoverer, dialer printer.Dialer, opts Options) (*Manager, error) {
	if opts.ScanTimeout <= 0 || opts.ConnectTimeout <= 0 {
		return nil, ErrTimeoutRequired
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		discoverer: d,
		dialer:     dialer,
		opts:       opts,
		log:        opts.Logger,
	}, nil
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the live connection, or nil unless Connected
func (m *Manager) Current() *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected {
		return nil
	}
	return m.current
}

func (m *Manager) setLocked(to State) {
	if m.state == to {
		return
	}
	m.pending = append(m.pending, transition{m.state, to})
	m.state = to
}

// unlock releases mu and then reports the transitions made while holding it
func (m *Manager) unlock() {
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, t := range pending {
		m.log.Debug("state change", zap.Stringer("from", t.from), zap.Stringer("to", t.to))
		if m.opts.OnStateChange != nil {
			m.opts.OnStateChange(t.from, t.to)
		}
	}
}

// Scan starts discovery and returns a channel of matching devices in the
// order they were found. The channel is closed when the timeout elapses,
// discovery finishes or ctx is cancelled. Each device is reported once.
func (m *Manager) Scan(ctx context.Context, opts ScanOptions) (<-chan printer.Device, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.opts.ScanTimeout
	}

	m.mu.Lock()
	if m.state != Idle && m.state != DeviceFound {
		state := m.state
		m.mu.Unlock()
		return nil, &printer.ScanError{Kind: printer.ScanBusy, Err: fmt.Errorf("manager is %s", state)}
	}
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	m.scanID++
	id := m.scanID
	m.scanCancel = cancel
	m.setLocked(Scanning)
	m.unlock()

	if err := m.discoverer.RadioReady(scanCtx); err != nil {
		// Connect or Disconnect stopped the scan while the radio was checked
		stopped := errors.Is(scanCtx.Err(), context.Canceled)
		cancel()
		m.finishScan(id, Idle)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if stopped || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("scan stopped: %w", context.Canceled)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &printer.ScanError{Kind: printer.ScanTimeout, Err: err}
		}
		return nil, &printer.ScanError{Kind: printer.ScanRadioUnavailable, Err: err}
	}

	m.log.Info("scan started", zap.String("filter", opts.Filter), zap.Duration("timeout", timeout))
	out := make(chan printer.Device)
	go m.discover(ctx, scanCtx, cancel, id, opts.Filter, out)
	return out, nil
}

func (m *Manager) discover(parent, ctx context.Context, cancel context.CancelFunc, id uint64, filter string, out chan<- printer.Device) {
	defer close(out)
	defer cancel()

	seen := make(map[string]bool)
	found := 0
	err := m.discoverer.Discover(ctx, func(dev printer.Device) bool {
		if seen[dev.Address] {
			return true
		}
		seen[dev.Address] = true
		if !dev.Matches(filter) {
			return true
		}
		select {
		case out <- dev:
			found++
			return true
		case <-ctx.Done():
			return false
		}
	})
	if err != nil && ctx.Err() == nil {
		m.log.Warn("discovery ended with error", zap.Error(err))
	}

	to := Idle
	if found > 0 && parent.Err() == nil {
		to = DeviceFound
	}
	m.log.Info("scan finished", zap.Int("found", found))
	m.finishScan(id, to)
}

// finishScan leaves Scanning unless the scan was superseded
func (m *Manager) finishScan(id uint64, to State) {
	m.mu.Lock()
	if m.scanID == id && m.state == Scanning {
		m.scanCancel = nil
		m.setLocked(to)
	}
	m.unlock()
}

// ScanAll runs Scan and collects the results
func (m *Manager) ScanAll(ctx context.Context, opts ScanOptions) ([]printer.Device, error) {
	ch, err := m.Scan(ctx, opts)
	if err != nil {
		return nil, err
	}
	var devices []printer.Device
	for dev := range ch {
		devices = append(devices, dev)
	}
	return devices, nil
}

// Connect opens a connection to dev. Only one attempt may be in flight;
// others fail at once with ConnectError{Busy}. A running scan is stopped
// first, and an existing connection is closed before dialing so that at
// most one connection ever exists.
func (m *Manager) Connect(ctx context.Context, dev printer.Device, opts ConnectOptions) (*Connection, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.opts.ConnectTimeout
	}

	m.mu.Lock()
	var previous *Connection
	switch m.state {
	case Connecting, Disconnecting:
		state := m.state
		m.mu.Unlock()
		return nil, &printer.ConnectError{Kind: printer.ConnectBusy, Address: dev.Address, Err: fmt.Errorf("manager is %s", state)}
	case Scanning:
		m.stopScanLocked()
	case Connected:
		previous = m.current
		m.current = nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	m.attempt++
	attempt := m.attempt
	m.connectCancel = cancel
	m.setLocked(Connecting)
	m.unlock()

	if previous != nil {
		m.log.Info("closing previous connection", zap.Stringer("device", previous.device))
		if err := previous.link.Close(); err != nil {
			m.log.Warn("failed to close previous connection", zap.Error(err))
		}
	}

	m.log.Info("connecting", zap.Stringer("device", dev), zap.Duration("timeout", timeout))
	link, err := m.dialer.Dial(dialCtx, dev)

	m.mu.Lock()
	if m.attempt != attempt {
		// Disconnect ran while dialing and already moved to Idle
		m.unlock()
		if link != nil {
			link.Close()
		}
		return nil, &printer.ConnectError{Kind: printer.ConnectCancelled, Address: dev.Address, Err: err}
	}
	m.connectCancel = nil
	if err != nil {
		m.setLocked(Idle)
		m.unlock()
		connErr := classifyConnect(ctx, dialCtx, dev, err)
		m.log.Warn("connect failed", zap.Stringer("device", dev), zap.Error(connErr))
		return nil, connErr
	}

	c := &Connection{
		device:      dev,
		link:        link,
		mgr:         m,
		ConnectedAt: time.Now(),
	}
	m.current = c
	m.setLocked(Connected)
	m.unlock()

	link.OnDisconnect(func(cause error) {
		m.linkLost(c, cause)
	})
	if !link.Alive() {
		m.linkLost(c, printer.ErrLinkLost)
	}

	m.log.Info("connected", zap.Stringer("device", dev))
	return c, nil
}

func classifyConnect(parent, dialCtx context.Context, dev printer.Device, err error) error {
	var connErr *printer.ConnectError
	if errors.As(err, &connErr) {
		return err
	}

	kind := printer.ConnectRejected
	switch {
	case errors.Is(parent.Err(), context.Canceled),
		errors.Is(err, printer.ErrConnectionCanceled):
		kind = printer.ConnectCancelled
	case errors.Is(dialCtx.Err(), context.DeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, printer.ErrConnectTimeout):
		kind = printer.ConnectTimeout
	case errors.Is(err, printer.ErrDeviceNotFound):
		kind = printer.ConnectNotFound
	}
	return &printer.ConnectError{Kind: kind, Address: dev.Address, Err: err}
}

func (m *Manager) stopScanLocked() {
	if m.scanCancel != nil {
		m.scanCancel()
		m.scanCancel = nil
	}
	// a finishing scan must not overwrite the state we move to next
	m.scanID++
}

// Disconnect closes the connection and returns to Idle. It also aborts a
// scan or connection attempt in progress. Calling it with nothing to tear
// down is a no-op.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	switch m.state {
	case Scanning:
		m.stopScanLocked()
		m.setLocked(Idle)
		m.unlock()
		return nil
	case Connecting:
		if m.connectCancel != nil {
			m.connectCancel()
			m.connectCancel = nil
		}
		m.attempt++
		m.setLocked(Idle)
		m.unlock()
		return nil
	case Connected:
	default:
		m.mu.Unlock()
		return nil
	}

	c := m.current
	m.current = nil
	m.setLocked(Disconnecting)
	m.unlock()

	m.log.Info("disconnecting", zap.Stringer("device", c.device))
	err := c.link.Close()

	m.mu.Lock()
	if m.state == Disconnecting {
		m.setLocked(Idle)
	}
	m.unlock()

	if err != nil {
		return fmt.Errorf("failed to close connection to %s: %w", c.device.Address, err)
	}
	return nil
}

// ReportTransportError lets a writer tell the manager a write on c failed.
// The connection is dropped if the error or the link says it is gone.
func (m *Manager) ReportTransportError(c *Connection, err error) {
	if c == nil || err == nil {
		return
	}
	if printer.IsLinkLost(err) || !c.link.Alive() {
		m.linkLost(c, err)
		return
	}
	m.log.Warn("write failed, link still up", zap.Stringer("device", c.device), zap.Error(err))
}

func (m *Manager) linkLost(c *Connection, cause error) {
	m.mu.Lock()
	if m.current != c {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.setLocked(Idle)
	m.unlock()

	m.log.Warn("link lost", zap.Stringer("device", c.device), zap.Error(cause))
	if err := c.link.Close(); err != nil {
		m.log.Debug("close after link loss", zap.Error(err))
	}
}

// Device returns the connected device, if any
func (m *Manager) Device() (printer.Device, bool) {
	c := m.Current()
	if c == nil {
		return printer.Device{}, false
	}
	return c.device, true
}
