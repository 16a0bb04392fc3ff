package privilege

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Job is one backend call routed through the Dispatcher.
type Job func(ctx context.Context) error

type queued struct {
	op string
	fn Job
}

type identityQueue struct {
	jobs []queued
}

// Dispatcher runs backend calls off the caller's goroutine. Calls for one
// identity run strictly in submission order; different identities proceed
// in parallel.
type Dispatcher struct {
	timeout time.Duration
	logger  zerolog.Logger
	onError func(op string, err error)

	mu     sync.Mutex
	queues map[uuid.UUID]*identityQueue
	active int
	idle   chan struct{}
	closed bool
}

// DispatcherOption tunes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithErrorHook is called after a job fails, e.g. to count failures.
func WithErrorHook(fn func(op string, err error)) DispatcherOption {
	return func(d *Dispatcher) { d.onError = fn }
}

func NewDispatcher(timeout time.Duration, logger zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	idle := make(chan struct{})
	close(idle)
	d := &Dispatcher{
		timeout: timeout,
		logger:  logger.With().Str("component", "privilege_dispatcher").Logger(),
		queues:  make(map[uuid.UUID]*identityQueue),
		idle:    idle,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit enqueues fn for id. It returns false once the dispatcher is closed.
func (d *Dispatcher) Submit(id uuid.UUID, op string, fn Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn().Str("identity", id.String()).Str("operation", op).Msg("Dispatcher closed, dropping job")
		return false
	}

	q, running := d.queues[id]
	if !running {
		q = &identityQueue{}
		d.queues[id] = q
	}
	q.jobs = append(q.jobs, queued{op: op, fn: fn})
	if !running {
		if d.active == 0 {
			d.idle = make(chan struct{})
		}
		d.active++
		go d.drain(id, q)
	}
	return true
}

func (d *Dispatcher) drain(id uuid.UUID, q *identityQueue) {
	for {
		d.mu.Lock()
		if len(q.jobs) == 0 {
			delete(d.queues, id)
			d.active--
			if d.active == 0 {
				close(d.idle)
			}
			d.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		d.mu.Unlock()

		d.run(id, job)
	}
}

func (d *Dispatcher) run(id uuid.UUID, job queued) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return job.fn(ctx)
	}()
	if err == nil {
		return
	}

	d.logger.Error().Err(err).
		Str("identity", id.String()).
		Str("operation", job.op).
		Msg("Privilege operation failed")
	if d.onError != nil {
		d.onError(job.op, err)
	}
}

// Wait blocks until every submitted job has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	idle := d.idle
	d.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects new jobs and drains the queued ones.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return d.Wait(ctx)
}
