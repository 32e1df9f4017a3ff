// Package dispatch serializes event handling per chat. Each chat gets its
// own worker goroutine and FIFO queue; a shared semaphore bounds how many
// chats are handled at once.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/quill/internal/config"
	"github.com/pitabwire/quill/internal/observability"
	"github.com/pitabwire/quill/model"
)

// ErrClosed is returned by Submit after Shutdown has begun.
var ErrClosed = errors.New("dispatch: dispatcher is shut down")

// Handler processes one event. Calls for the same chat never overlap.
type Handler interface {
	Handle(ctx context.Context, ev model.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev model.Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev model.Event) error { return f(ctx, ev) }

type job struct {
	ev       model.Event
	enqueued time.Time
}

type worker struct {
	jobs chan job
	// pending counts queued jobs plus senders blocked on a full queue.
	// Guarded by Dispatcher.mu.
	pending int
}

// Dispatcher routes events to per-chat workers.
type Dispatcher struct {
	handler   Handler
	logger    *zap.Logger
	metrics   *observability.Metrics
	queueSize int
	idle      time.Duration
	timeout   time.Duration
	sem       chan struct{}

	mu      sync.Mutex
	workers map[model.ChatID]*worker
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a Dispatcher. metrics may be nil.
func New(h Handler, cfg config.DispatchConfig, metrics *observability.Metrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxConc := cfg.MaxConcurrency
	if maxConc <= 0 {
		maxConc = 8
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 16
	}
	idle := cfg.WorkerIdle
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	timeout := cfg.HandlerTimeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Dispatcher{
		handler:   h,
		logger:    logger.Named("dispatch"),
		metrics:   metrics,
		queueSize: queueSize,
		idle:      idle,
		timeout:   timeout,
		sem:       make(chan struct{}, maxConc),
		workers:   make(map[model.ChatID]*worker),
		done:      make(chan struct{}),
	}
}

// Submit queues ev behind earlier events of the same chat. It blocks while
// that chat's queue is full, until ctx is done.
func (d *Dispatcher) Submit(ctx context.Context, ev model.Event) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	w := d.workerLocked(ev.ChatID)
	w.pending++
	d.mu.Unlock()

	select {
	case w.jobs <- job{ev: ev, enqueued: time.Now()}:
		return nil
	case <-ctx.Done():
		d.mu.Lock()
		w.pending--
		d.mu.Unlock()
		return ctx.Err()
	}
}

// Workers returns the number of live chat workers.
func (d *Dispatcher) Workers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// Shutdown stops accepting events and waits for queued ones to finish.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.done)
	}
	d.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch: shutdown: %w", ctx.Err())
	}
}

func (d *Dispatcher) workerLocked(chatID model.ChatID) *worker {
	if w, ok := d.workers[chatID]; ok {
		return w
	}
	w := &worker{jobs: make(chan job, d.queueSize)}
	d.workers[chatID] = w
	d.metrics.SetDispatchWorkers(len(d.workers))
	d.wg.Add(1)
	go d.run(chatID, w)
	return w
}

// run is the worker loop. It exits after the idle period with nothing
// pending, or once shutdown has begun and the queue is drained.
func (d *Dispatcher) run(chatID model.ChatID, w *worker) {
	defer d.wg.Done()
	timer := time.NewTimer(d.idle)
	defer timer.Stop()

	for {
		select {
		case j := <-w.jobs:
			d.take(w)
			d.handle(j)
			timer.Reset(d.idle)
		case <-timer.C:
			if d.retire(chatID, w) {
				return
			}
			timer.Reset(d.idle)
		case <-d.done:
			for {
				select {
				case j := <-w.jobs:
					d.take(w)
					d.handle(j)
				default:
					if d.retire(chatID, w) {
						return
					}
					// A sender is mid-flight; it either delivers or gives up.
					select {
					case j := <-w.jobs:
						d.take(w)
						d.handle(j)
					case <-time.After(10 * time.Millisecond):
					}
				}
			}
		}
	}
}

func (d *Dispatcher) take(w *worker) {
	d.mu.Lock()
	w.pending--
	d.mu.Unlock()
}

// retire removes the worker if nothing is pending for it.
func (d *Dispatcher) retire(chatID model.ChatID, w *worker) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w.pending > 0 {
		return false
	}
	delete(d.workers, chatID)
	d.metrics.SetDispatchWorkers(len(d.workers))
	return true
}

func (d *Dispatcher) handle(j job) {
	d.sem <- struct{}{}
	defer func() { <-d.sem }()

	d.metrics.ObserveQueueWait(time.Since(j.enqueued))

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic",
				zap.String("event_id", j.ev.ID),
				zap.Int64("chat_id", int64(j.ev.ChatID)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	if err := d.handler.Handle(ctx, j.ev); err != nil {
		d.logger.Warn("handler failed",
			zap.String("event_id", j.ev.ID),
			zap.Int64("chat_id", int64(j.ev.ChatID)),
			zap.String("kind", string(j.ev.Kind)),
			zap.Error(err),
		)
	}
}
