package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Config controls buffering. A disabled Config yields a nil Dispatcher.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull refuses events while the buffer is full instead of waiting.
	DropIfFull bool
	// OnDrop is called for every event that will not reach the sink.
	OnDrop func(Event)
}

// Dispatcher hands events to a sink from one background goroutine, in the
// order they were queued. A nil Dispatcher ignores every call.
type Dispatcher struct {
	sink       Sink
	events     chan Event
	stopping   chan struct{}
	drained    chan struct{}
	dropIfFull bool
	onDrop     func(Event)

	// mu orders Emit against Close: an event is either queued before the
	// queue is closed or counted as dropped.
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
	dropped  atomic.Uint64
}

// NewDispatcher starts a dispatcher for sink, or returns nil when cfg is
// disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink:       sink,
		events:     make(chan Event, cfg.BufferSize),
		stopping:   make(chan struct{}),
		drained:    make(chan struct{}),
		dropIfFull: cfg.DropIfFull,
		onDrop:     cfg.OnDrop,
	}
	go d.deliver()
	return d
}

func (d *Dispatcher) deliver() {
	defer close(d.drained)
	for event := range d.events {
		d.sink.Emit(context.Background(), event)
	}
}

// Emit queues event. It is dropped when the dispatcher is closed or closing,
// when the buffer is full in drop mode, or when ctx ends while waiting for room.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(event)
		return
	}

	if d.dropIfFull {
		select {
		case d.events <- event:
		default:
			d.drop(event)
		}
		return
	}

	select {
	case d.events <- event:
	case <-ctx.Done():
		d.drop(event)
	case <-d.stopping:
		d.drop(event)
	}
}

func (d *Dispatcher) drop(event Event) {
	d.dropped.Add(1)
	if d.onDrop != nil {
		d.onDrop(event)
	}
}

// Close stops accepting events and waits until every queued event has reached
// the sink or ctx ends. Later calls only wait.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.stopOnce.Do(func() {
		close(d.stopping)
		d.mu.Lock()
		d.closed = true
		close(d.events)
		d.mu.Unlock()
	})

	select {
	case <-d.drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit: %d events not delivered: %w", len(d.events), ctx.Err())
	}
}

// Dropped returns the number of events that did not reach the sink.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
