package job

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"btlabel/internal/label"
)

// Status is a print job lifecycle state
type Status int

const (
	Queued Status = iota
	Sending
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Queued:
		return "queued"
	case Sending:
		return "sending"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transitions can happen
func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

// Job is one submitted label. Only the pipeline changes its status.
type Job struct {
	ID          string
	Content     label.Content
	SubmittedAt time.Time

	ctx        context.Context
	data       []byte
	stopCancel func() bool

	mu         sync.Mutex
	status     Status
	err        error
	finishedAt time.Time
	done       chan struct{}
}

func newJob(ctx context.Context, content label.Content) *Job {
	return &Job{
		ID:          uuid.NewString(),
		Content:     content,
		SubmittedAt: time.Now(),
		ctx:         ctx,
		done:        make(chan struct{}),
	}
}

// Status returns the current status
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Err returns why the job failed, or nil
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// FinishedAt returns when the job reached a terminal status
func (j *Job) FinishedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finishedAt
}

// Size returns the number of encoded bytes
func (j *Job) Size() int {
	return len(j.data)
}

// Done is closed once the job is Completed or Failed
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx ends. It returns the job's
// failure reason, or ctx's error if ctx ended first.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// advance moves the job to status. It refuses to leave a terminal status.
func (j *Job) advance(status Status, err error) bool {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return false
	}
	j.status = status
	j.err = err
	terminal := status.Terminal()
	if terminal {
		j.finishedAt = time.Now()
	}
	j.mu.Unlock()

	if terminal {
		if j.stopCancel != nil {
			j.stopCancel()
		}
		close(j.done)
	}
	return true
}
