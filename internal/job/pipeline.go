// Package job serialises print jobs onto the current printer connection.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"btlabel/internal/conn"
	"btlabel/internal/escpos"
	"btlabel/internal/label"
)

var (
	ErrNotConnected = errors.New("printer not connected")
	ErrCancelled    = errors.New("print job cancelled")
	ErrClosed       = errors.New("print pipeline closed")
)

// Connections is the part of the connection manager the pipeline needs
type Connections interface {
	Current() *conn.Connection
	ReportTransportError(c *conn.Connection, err error)
}

// EncodeFunc renders content to the bytes for one job
type EncodeFunc func(label.Content) ([]byte, error)

type Options struct {
	// Encode defaults to escpos.EncodeLabel
	Encode EncodeFunc
	Logger *zap.Logger
	// OnJobUpdate is called on every status change, from the goroutine
	// that made it
	OnJobUpdate func(*Job)
}

// Pipeline prints one job at a time in submission order. There is no
// retry: a failed job stays failed and the caller decides whether to
// submit it again, so a label is never printed twice by accident.
type Pipeline struct {
	conns    Connections
	encode   EncodeFunc
	log      *zap.Logger
	onUpdate func(*Job)

	mu     sync.Mutex
	queue  []*Job
	last   *Job
	closed bool

	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

// New starts a pipeline worker. Call Close to stop it.
func New(conns Connections, opts Options) *Pipeline {
	if opts.Encode == nil {
		opts.Encode = escpos.EncodeLabel
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	p := &Pipeline{
		conns:    conns,
		encode:   opts.Encode,
		log:      opts.Logger,
		onUpdate: opts.OnJobUpdate,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go p.worker()
	return p
}

// Submit encodes content and queues it. It fails with ErrNotConnected,
// creating no job, unless a connection is up. If the content cannot be
// encoded the returned job has already failed and the EncodingError is
// returned as well; nothing is sent. ctx governs the job until it finishes.
func (p *Pipeline) Submit(ctx context.Context, content label.Content) (*Job, error) {
	if p.conns.Current() == nil {
		return nil, ErrNotConnected
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	j := newJob(ctx, content)
	data, err := p.encode(content)
	if err != nil {
		p.mu.Lock()
		p.last = j
		p.mu.Unlock()
		p.finish(j, Failed, err)
		return j, err
	}
	j.data = data

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.queue = append(p.queue, j)
	p.last = j
	j.stopCancel = context.AfterFunc(ctx, func() { p.cancelQueued(j) })
	p.mu.Unlock()

	p.log.Info("job queued", zap.String("job", j.ID), zap.Int("elements", content.Len()), zap.Int("bytes", len(data)))
	p.notify(j)

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return j, nil
}

// cancelQueued fails j if its context ends before the worker picks it up
func (p *Pipeline) cancelQueued(j *Job) {
	p.mu.Lock()
	idx := -1
	for i, q := range p.queue {
		if q == j {
			idx = i
			break
		}
	}
	if idx >= 0 {
		p.queue = append(p.queue[:idx], p.queue[idx+1:]...)
	}
	p.mu.Unlock()

	if idx >= 0 {
		p.finish(j, Failed, cancelled(j.ctx))
	}
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
}

func (p *Pipeline) worker() {
	defer close(p.stopped)
	for {
		j := p.next()
		if j == nil {
			return
		}
		p.run(j)
	}
}

// next blocks until a job is queued or the pipeline stops
func (p *Pipeline) next() *Job {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			j := p.queue[0]
			p.queue = p.queue[1:]
			p.mu.Unlock()
			return j
		}
		p.mu.Unlock()

		select {
		case <-p.wake:
		case <-p.stop:
			return nil
		}
	}
}

func (p *Pipeline) run(j *Job) {
	if j.ctx.Err() != nil {
		p.finish(j, Failed, cancelled(j.ctx))
		return
	}

	// the link may have dropped while this job waited; never buffer for a
	// reconnect
	c := p.conns.Current()
	if c == nil {
		p.finish(j, Failed, ErrNotConnected)
		return
	}

	if !j.advance(Sending, nil) {
		return
	}
	p.log.Debug("job sending", zap.String("job", j.ID), zap.Stringer("device", c.Device()))
	p.notify(j)

	err := c.Write(j.ctx, j.data)
	switch {
	case err == nil:
		p.finish(j, Completed, nil)
	case j.ctx.Err() != nil && errors.Is(err, j.ctx.Err()):
		p.finish(j, Failed, cancelled(j.ctx))
	default:
		p.finish(j, Failed, err)
		p.conns.ReportTransportError(c, err)
	}
}

func (p *Pipeline) finish(j *Job, status Status, err error) {
	if !j.advance(status, err) {
		return
	}
	if err != nil {
		p.log.Warn("job failed", zap.String("job", j.ID), zap.Error(err))
	} else {
		p.log.Info("job completed", zap.String("job", j.ID))
	}
	p.notify(j)
}

func (p *Pipeline) notify(j *Job) {
	if p.onUpdate != nil {
		p.onUpdate(j)
	}
}

// Last returns the most recently submitted job, or nil
func (p *Pipeline) Last() *Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Pending returns the number of queued jobs not yet sending
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close stops accepting jobs, waits for the job being sent, and fails the
// rest with ErrClosed. It is safe to call more than once.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.stopped
		return
	}
	p.closed = true
	pending := p.queue
	p.queue = nil
	p.mu.Unlock()

	close(p.stop)
	<-p.stopped

	for _, j := range pending {
		p.finish(j, Failed, ErrClosed)
	}
}
