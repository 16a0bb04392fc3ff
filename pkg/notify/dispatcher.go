package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultQueueSize = 256

// Dispatcher fans events out to sinks. Each sink has its own queue and
// worker so a slow sink only delays itself. Progress events are shed once a
// queue is three quarters full; a full queue drops anything.
type Dispatcher struct {
	lanes   []*lane
	timeout time.Duration
	logger  zerolog.Logger
	onDrop  func()
	wg      sync.WaitGroup
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

type lane struct {
	sink    Sink
	queue   chan Event
	reserve int
}

func (l *lane) accepts(ev Event) bool {
	if ev.Kind == KindProgress {
		return len(l.queue) < cap(l.queue)-l.reserve
	}
	return true
}

type DispatcherConfig struct {
	QueueSize int
	// Timeout bounds a single sink delivery.
	Timeout time.Duration
	Logger  zerolog.Logger
	OnDrop  func()
}

func NewDispatcher(cfg DispatcherConfig, sinks ...Sink) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	d := &Dispatcher{
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With().Str("component", "notify").Logger(),
		onDrop:  cfg.OnDrop,
		done:    make(chan struct{}),
	}
	for _, sink := range sinks {
		l := &lane{sink: sink, queue: make(chan Event, cfg.QueueSize), reserve: cfg.QueueSize / 4}
		d.lanes = append(d.lanes, l)
		d.wg.Add(1)
		go d.run(l)
	}
	go func() {
		d.wg.Wait()
		close(d.done)
	}()
	return d
}

// Notify enqueues ev without blocking.
func (d *Dispatcher) Notify(ev Event) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, l := range d.lanes {
		if l.accepts(ev) {
			select {
			case l.queue <- ev:
				continue
			default:
			}
		}
		d.logger.Warn().Str("sink", l.sink.Name()).Str("kind", string(ev.Kind)).Str("identity", ev.Identity.String()).
			Msg("Notification queue full, dropping event")
		if d.onDrop != nil {
			d.onDrop()
		}
	}
}

func (d *Dispatcher) run(l *lane) {
	defer d.wg.Done()
	for ev := range l.queue {
		d.deliver(l.sink, ev)
	}
}

func (d *Dispatcher) deliver(sink Sink, ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("sink panic: %v", r)
			}
		}()
		return sink.Deliver(ctx, ev)
	}()
	if err != nil {
		d.logger.Error().Err(err).
			Str("sink", sink.Name()).
			Str("kind", string(ev.Kind)).
			Str("identity", ev.Identity.String()).
			Msg("Notification delivery failed")
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, l := range d.lanes {
			close(l.queue)
		}
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
