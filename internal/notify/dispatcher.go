package notify

import (
	"context"
	"sync"
	"time"

	"perpetual-engine/internal/interfaces"
	"perpetual-engine/internal/logger"
	"perpetual-engine/internal/types"
)

const (
	defaultQueueSize = 256
	handleTimeout    = 15 * time.Second
)

type queued struct {
	ctx context.Context
	ev  types.Event
}

// Dispatcher fans engine events out to sinks on a single worker goroutine.
// Notify never blocks: when the queue is full the event is dropped.
type Dispatcher struct {
	sinks []interfaces.EventSink
	queue chan queued
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
}

var _ interfaces.Notifier = (*Dispatcher)(nil)

// NewDispatcher starts the delivery worker. Sinks receive events in the
// order they were queued.
func NewDispatcher(queueSize int, sinks ...interfaces.EventSink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	d := &Dispatcher{
		sinks: sinks,
		queue: make(chan queued, queueSize),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Notify(ctx context.Context, ev types.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- queued{ctx: context.WithoutCancel(ctx), ev: ev}:
	default:
		d.dropped++
		logger.Warn(ctx, "Notification queue full, dropping event",
			"kind", string(ev.Kind),
			"title", ev.Title,
		)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close stops accepting events and waits for queued ones to be delivered,
// bounded by ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for item := range d.queue {
		for _, sink := range d.sinks {
			d.deliver(item, sink)
		}
	}
}

func (d *Dispatcher) deliver(item queued, sink interfaces.EventSink) {
	ctx, cancel := context.WithTimeout(item.ctx, handleTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Notification sink panicked", "sink", sink.Name(), "panic", r)
		}
	}()

	if err := sink.Handle(ctx, item.ev); err != nil {
		logger.ErrorWithErr(ctx, "Notification sink failed", err,
			"sink", sink.Name(),
			"kind", string(item.ev.Kind),
		)
	}
}
