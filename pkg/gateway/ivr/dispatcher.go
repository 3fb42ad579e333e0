package ivr

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrQueueFull        = errors.New("ivr: call queue is full")
	ErrDispatcherClosed = errors.New("ivr: dispatcher is closed")
)

// Handler processes one packet. ctx is cancelled when the call hangs up or
// the dispatcher is force-stopped.
type Handler func(ctx context.Context, p Packet)

type DispatcherConfig struct {
	QueueSize   int
	IdleTimeout time.Duration
	Logger      *slog.Logger

	// OnWorkerStart and OnWorkerStop observe worker lifetimes.
	OnWorkerStart func(callID string)
	OnWorkerStop  func(callID string)
}

// Dispatcher runs one worker goroutine per active call. Packets for a call
// are handled strictly in submission order; different calls never wait on
// each other. Idle workers exit after IdleTimeout and are recreated on the
// next packet.
type Dispatcher struct {
	handler Handler
	cfg     DispatcherConfig
	logger  *slog.Logger

	baseCtx context.Context
	stop    context.CancelFunc

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
}

type worker struct {
	callID string
	queue  chan job
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDispatcher(handler Handler, cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Dispatcher{
		handler: handler,
		cfg:     cfg,
		logger:  logger,
		baseCtx: ctx,
		stop:    stop,
		workers: make(map[string]*worker),
	}
}

type job struct {
	seq    int64
	run    func(ctx context.Context)
	onDrop func()
}

// Submit enqueues p on its call's worker, starting one if needed. It never
// blocks: a full queue returns ErrQueueFull.
func (d *Dispatcher) Submit(p Packet) error {
	return d.enqueue(p.CallID, job{seq: p.Seq, run: func(ctx context.Context) { d.handler(ctx, p) }})
}

// Do runs fn on the call's worker, ordered with every other packet and
// function submitted for callID. If the call hangs up before fn starts, fn
// is skipped and onDrop, when non-nil, runs instead.
func (d *Dispatcher) Do(callID string, seq int64, fn func(ctx context.Context), onDrop func()) error {
	return d.enqueue(callID, job{seq: seq, run: fn, onDrop: onDrop})
}

func (d *Dispatcher) enqueue(callID string, j job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	w, ok := d.workers[callID]
	if !ok {
		w = d.startLocked(callID)
	}
	select {
	case w.queue <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// Hangup abandons the call's in-flight and queued work. It reports whether
// a worker was running.
func (d *Dispatcher) Hangup(callID string) bool {
	d.mu.Lock()
	w, ok := d.workers[callID]
	if ok {
		delete(d.workers, callID)
	}
	d.mu.Unlock()
	if ok {
		w.cancel()
	}
	return ok
}

func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// Close stops accepting packets and lets workers drain their queues. If ctx
// ends first, remaining work is cancelled and ctx.Err() is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, w := range d.workers {
			close(w.queue)
		}
	}
	d.mu.Unlock()

	if d.Wait(ctx) {
		d.stop()
		return nil
	}
	d.CancelAll()
	return ctx.Err()
}

// CancelAll cancels every worker's context.
func (d *Dispatcher) CancelAll() {
	d.stop()
}

// Wait blocks until all workers have exited or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// startLocked must be called with mu held.
func (d *Dispatcher) startLocked(callID string) *worker {
	ctx, cancel := context.WithCancel(d.baseCtx)
	w := &worker{
		callID: callID,
		queue:  make(chan job, d.cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	d.workers[callID] = w
	d.wg.Add(1)
	if d.cfg.OnWorkerStart != nil {
		d.cfg.OnWorkerStart(callID)
	}
	go d.run(w)
	return w
}

func (d *Dispatcher) run(w *worker) {
	defer func() {
		w.cancel()
		if d.cfg.OnWorkerStop != nil {
			d.cfg.OnWorkerStop(w.callID)
		}
		d.wg.Done()
	}()

	idle := time.NewTimer(d.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-w.ctx.Done():
			d.dropQueued(w)
			return
		case j, ok := <-w.queue:
			if !ok {
				return
			}
			if w.ctx.Err() != nil {
				d.drop(w, j)
				d.dropQueued(w)
				return
			}
			d.handle(w, j)
			idle.Reset(d.cfg.IdleTimeout)
		case <-idle.C:
			if d.retire(w) {
				return
			}
			idle.Reset(d.cfg.IdleTimeout)
		}
	}
}

func (d *Dispatcher) handle(w *worker, j job) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("call handler panic", "call_id", w.callID, "seq", j.seq, "panic", rec)
		}
	}()
	j.run(w.ctx)
}

// dropQueued discards whatever is still queued for a cancelled worker.
func (d *Dispatcher) dropQueued(w *worker) {
	for {
		select {
		case j, ok := <-w.queue:
			if !ok {
				return
			}
			d.drop(w, j)
		default:
			return
		}
	}
}

func (d *Dispatcher) drop(w *worker, j job) {
	d.logger.Debug("call packet dropped", "call_id", w.callID, "seq", j.seq)
	if j.onDrop == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("call drop hook panic", "call_id", w.callID, "seq", j.seq, "panic", rec)
		}
	}()
	j.onDrop()
}

// retire removes an idle worker unless a packet arrived in the meantime.
func (d *Dispatcher) retire(w *worker) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(w.queue) > 0 {
		return false
	}
	if d.workers[w.callID] == w {
		delete(d.workers, w.callID)
	}
	return true
}
