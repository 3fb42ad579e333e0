// Package events delivers typed lifecycle events to observability sinks
// without ever blocking the turn that produced them.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Type string

const (
	IVRIncoming           Type = "ivr.incoming"
	IVRHumanDetected      Type = "ivr.human_detected"
	TurnStarted           Type = "convo.turn.started"
	TurnIgnoredIdempotent Type = "convo.turn.ignored_idempotent"
	TurnCompleted         Type = "convo.turn.completed"
	ConvoError            Type = "convo.error"
)

type Event struct {
	Type           Type           `json:"type"`
	TS             time.Time      `json:"ts"`
	CallID         string         `json:"callId"`
	Seq            int64          `json:"seq"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// Sink receives events. Implementations must be safe for use by a single
// delivery goroutine.
type Sink interface {
	Handle(ctx context.Context, ev Event)
}

type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }

// Multi fans an event out to every sink in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, ev Event) {
		for _, s := range sinks {
			if s != nil {
				s.Handle(ctx, ev)
			}
		}
	})
}

// Emitter queues events for a background goroutine. Emit never blocks; when
// the queue is full the event is dropped and counted.
type Emitter struct {
	sink    Sink
	logger  *slog.Logger
	queue   chan Event
	done    chan struct{}
	dropped atomic.Uint64
	onDrop  func(Event)

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

type EmitterOption func(*Emitter)

// WithDropHook is called synchronously for each dropped event.
func WithDropHook(fn func(Event)) EmitterOption {
	return func(e *Emitter) { e.onDrop = fn }
}

func WithLogger(logger *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewEmitter(sink Sink, buffer int, opts ...EmitterOption) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	e := &Emitter{
		sink:   sink,
		logger: slog.Default(),
		queue:  make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.run()
	return e
}

func (e *Emitter) Emit(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now()
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.drop(ev)
		return
	}
	select {
	case e.queue <- ev:
	default:
		e.drop(ev)
	}
}

func (e *Emitter) Dropped() uint64 { return e.dropped.Load() }

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end.
func (e *Emitter) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.queue)
		e.mu.Unlock()
	})
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) drop(ev Event) {
	e.dropped.Add(1)
	if e.onDrop != nil {
		e.onDrop(ev)
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for ev := range e.queue {
		e.deliver(ev)
	}
}

func (e *Emitter) deliver(ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("event sink panic", "type", string(ev.Type), "call_id", ev.CallID, "panic", rec)
		}
	}()
	if e.sink != nil {
		e.sink.Handle(context.Background(), ev)
	}
}
