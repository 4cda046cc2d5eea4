// Package client is the public face of the label printer: discovery,
// connection and printing behind one value, with typed events for UIs.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"btlabel/internal/config"
	"btlabel/internal/conn"
	"btlabel/internal/escpos"
	"btlabel/internal/job"
	"btlabel/internal/label"
	"btlabel/internal/printer"
	"btlabel/internal/tspl"
)

type (
	Device          = printer.Device
	ConnectionState = conn.State
	ScanOptions     = conn.ScanOptions
	ConnectOptions  = conn.ConnectOptions
	Job             = job.Job
	JobStatus       = job.Status

	ScanError      = printer.ScanError
	ConnectError   = printer.ConnectError
	TransportError = printer.TransportError
	EncodingError  = escpos.EncodingError
)

const (
	Idle          = conn.Idle
	Scanning      = conn.Scanning
	DeviceFound   = conn.DeviceFound
	Connecting    = conn.Connecting
	Connected     = conn.Connected
	Disconnecting = conn.Disconnecting

	JobQueued    = job.Queued
	JobSending   = job.Sending
	JobCompleted = job.Completed
	JobFailed    = job.Failed
)

var (
	ErrNotConnected = job.ErrNotConnected
	ErrCancelled    = job.ErrCancelled
	ErrClosed       = job.ErrClosed
	ErrNoDevice     = errors.New("no matching printer found")

	ErrBusy               = printer.ErrBusy
	ErrLinkLost           = printer.ErrLinkLost
	ErrConnectionCanceled = printer.ErrConnectionCanceled
)

// EventType identifies what an Event reports
type EventType int

const (
	EventStateChanged EventType = iota
	EventJobUpdated
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state_changed"
	case EventJobUpdated:
		return "job_updated"
	}
	return "unknown"
}

// Event is delivered to handlers registered with On. From and To are set
// for EventStateChanged, Job for EventJobUpdated.
type Event struct {
	Type EventType
	From ConnectionState
	To   ConnectionState
	Job  *Job
}

// Status is a snapshot of the client
type Status struct {
	ConnectionState ConnectionState
	// Device is nil unless connected
	Device  *Device
	LastJob *Job
}

type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.log = logger
	}
}

// Encoder turns label content into the bytes of one print job
type Encoder interface {
	EncodeLabel(content label.Content) ([]byte, error)
	// Width is the printable width in dots
	Width() int
}

// WithEncoder replaces the encoder built from the config
func WithEncoder(enc Encoder) Option {
	return func(c *Client) {
		c.encoder = enc
	}
}

type Client struct {
	mgr      *conn.Manager
	pipeline *job.Pipeline
	log      *zap.Logger
	encoder  Encoder

	listeners      map[EventType][]func(Event)
	listenersMutex sync.RWMutex

	closeOnce sync.Once
	closeErr  error
}

// New validates cfg and wires a client over the given transport
func New(cfg config.Config, d printer.Discoverer, dialer printer.Dialer, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Client{
		log:       zap.NewNop(),
		listeners: make(map[EventType][]func(Event)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}

	if c.encoder == nil {
		enc, err := NewEncoder(cfg.Encoder)
		if err != nil {
			return nil, err
		}
		c.encoder = enc
	}

	mgr, err := conn.New(d, dialer, conn.Options{
		ScanTimeout:    cfg.ScanTimeout(),
		ConnectTimeout: cfg.ConnectTimeout(),
		Logger:         c.log.Named("conn"),
		OnStateChange: func(from, to conn.State) {
			c.emit(Event{Type: EventStateChanged, From: from, To: to})
		},
	})
	if err != nil {
		return nil, err
	}
	c.mgr = mgr

	c.pipeline = job.New(mgr, job.Options{
		Encode: c.encoder.EncodeLabel,
		Logger: c.log.Named("job"),
		OnJobUpdate: func(j *job.Job) {
			c.emit(Event{Type: EventJobUpdated, Job: j})
		},
	})
	return c, nil
}

// NewEncoder builds the encoder for cfg.Protocol, ESC/POS when empty
func NewEncoder(cfg config.EncoderConfig) (Encoder, error) {
	switch cfg.Protocol {
	case "", config.ProtocolESCPOS:
		enc, err := escpos.Default.WithCodePage(cfg.CodePage)
		if err != nil {
			return nil, err
		}
		if cfg.MaxQRPayload > 0 {
			enc.MaxQRPayload = cfg.MaxQRPayload
		}
		if cfg.PaperWidthDots > 0 {
			enc.PaperWidth = cfg.PaperWidthDots
		}
		return enc, nil

	case config.ProtocolTSPL:
		enc, err := tspl.Default.WithCodePage(cfg.CodePage)
		if err != nil {
			return nil, err
		}
		if cfg.LabelSize != "" {
			size, ok := tspl.LookupSize(cfg.LabelSize)
			if !ok {
				return nil, fmt.Errorf("unknown label size %q", cfg.LabelSize)
			}
			enc.Size = size
		}
		if cfg.MaxQRPayload > 0 {
			enc.MaxQRPayload = cfg.MaxQRPayload
		}
		enc.Gap = cfg.GapMM
		enc.Density = cfg.Density
		return enc, nil
	}
	return nil, fmt.Errorf("unknown encoder protocol %q", cfg.Protocol)
}

// Encoder returns the encoder jobs are rendered with
func (c *Client) Encoder() Encoder {
	return c.encoder
}

// On adds an event listener. Handlers run on the goroutine that caused
// the event, after the client has released its locks; they must not block.
func (c *Client) On(eventType EventType, handler func(Event)) {
	c.listenersMutex.Lock()
	defer c.listenersMutex.Unlock()

	c.listeners[eventType] = append(c.listeners[eventType], handler)
}

func (c *Client) emit(event Event) {
	c.listenersMutex.RLock()
	handlers := c.listeners[event.Type]
	c.listenersMutex.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Scan streams matching printers; see conn.Manager.Scan
func (c *Client) Scan(ctx context.Context, opts ScanOptions) (<-chan Device, error) {
	return c.mgr.Scan(ctx, opts)
}

// ScanAll scans until the timeout and returns every match
func (c *Client) ScanAll(ctx context.Context, opts ScanOptions) ([]Device, error) {
	return c.mgr.ScanAll(ctx, opts)
}

// FindFirst scans for the first device matching opts.Filter and stops the
// scan as soon as one is seen.
func (c *Client) FindFirst(ctx context.Context, opts ScanOptions) (Device, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := c.mgr.Scan(ctx, opts)
	if err != nil {
		return Device{}, err
	}
	dev, ok := <-ch
	cancel()
	for range ch {
	}
	if !ok {
		return Device{}, ErrNoDevice
	}
	return dev, nil
}

// Connect opens the connection to dev, replacing any existing one
func (c *Client) Connect(ctx context.Context, dev Device, opts ConnectOptions) error {
	_, err := c.mgr.Connect(ctx, dev, opts)
	return err
}

// Disconnect closes the connection or aborts a scan or connect in progress
func (c *Client) Disconnect() error {
	return c.mgr.Disconnect()
}

// State returns the connection state without blocking
func (c *Client) State() ConnectionState {
	return c.mgr.State()
}

// Submit queues content and returns at once. See job.Pipeline.Submit.
func (c *Client) Submit(ctx context.Context, content label.Content) (*Job, error) {
	return c.pipeline.Submit(ctx, content)
}

// Print submits content and waits until the job completes or fails. The
// job is returned whenever one was created. Once ctx ends Print returns
// ErrCancelled at once, even if the link is still finishing a write; the
// job itself fails once the write returns.
func (c *Client) Print(ctx context.Context, content label.Content) (*Job, error) {
	j, err := c.pipeline.Submit(ctx, content)
	if err != nil {
		return j, err
	}
	select {
	case <-j.Done():
		return j, j.Err()
	case <-ctx.Done():
		return j, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}
}

func (c *Client) Status() Status {
	st := Status{
		ConnectionState: c.mgr.State(),
		LastJob:         c.pipeline.Last(),
	}
	if dev, ok := c.mgr.Device(); ok {
		st.Device = &dev
	}
	return st
}

// Close disconnects and stops the job pipeline. Jobs still queued fail,
// with ErrNotConnected or ErrClosed. Further calls return the first result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.mgr.Disconnect()
		c.pipeline.Close()
		c.log.Debug("client closed")
	})
	return c.closeErr
}
