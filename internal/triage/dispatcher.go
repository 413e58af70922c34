package triage

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/nhle/inbox-triage/internal/model"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("dispatcher closed")

// ErrQueueFull is returned by TrySubmit when no queue slot is free.
var ErrQueueFull = errors.New("analysis queue full")

// ErrAlreadyQueued is returned when the communication is queued or being
// processed already.
var ErrAlreadyQueued = errors.New("communication already queued")

// Processor handles one queued communication.
type Processor interface {
	Process(ctx context.Context, c model.Communication) Result
}

// Dispatcher runs Processor calls on a fixed set of workers fed by a
// bounded queue. Callers only wait for a queue slot, never for the
// analysis itself; outcomes are published on Results.
type Dispatcher struct {
	processor Processor
	logger    *slog.Logger

	queue   chan model.Communication
	results chan Result

	// ctx outlives any single Submit caller so queued work survives the
	// request that enqueued it.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     conc.WaitGroup

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewDispatcher starts workers goroutines draining a queue of queueSize.
func NewDispatcher(p Processor, workers, queueSize int, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		processor: p,
		logger:    logger,
		queue:     make(chan model.Communication, queueSize),
		results:   make(chan Result, queueSize),
		inflight:  make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	for range workers {
		d.wg.Go(d.work)
	}
	return d
}

// Submit enqueues c, waiting for a free slot until ctx is done.
func (d *Dispatcher) Submit(ctx context.Context, c model.Communication) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	if !d.track(c.ID) {
		return ErrAlreadyQueued
	}

	select {
	case d.queue <- c:
		return nil
	case <-ctx.Done():
		d.untrack(c.ID)
		return ctx.Err()
	}
}

// TrySubmit enqueues c only if a slot is free right now.
func (d *Dispatcher) TrySubmit(c model.Communication) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	if !d.track(c.ID) {
		return ErrAlreadyQueued
	}

	select {
	case d.queue <- c:
		return nil
	default:
		d.untrack(c.ID)
		return ErrQueueFull
	}
}

// track marks id as in flight. It reports false if it already was.
func (d *Dispatcher) track(id string) bool {
	if id == "" {
		return true
	}
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()
	if _, ok := d.inflight[id]; ok {
		return false
	}
	d.inflight[id] = struct{}{}
	return true
}

func (d *Dispatcher) untrack(id string) {
	d.inflightMu.Lock()
	delete(d.inflight, id)
	d.inflightMu.Unlock()
}

// Results delivers one Result per processed communication. Results are
// dropped when nobody reads them and the buffer is full.
func (d *Dispatcher) Results() <-chan Result {
	return d.results
}

// Pending returns the number of queued, not yet started, items.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Close stops accepting work, lets the workers drain the queue, and then
// closes Results.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()
	close(d.results)
}

func (d *Dispatcher) work() {
	for c := range d.queue {
		res := d.run(c)
		d.untrack(c.ID)
		select {
		case d.results <- res:
		default:
			d.logger.Debug("result buffer full, dropping result", "communication_id", c.ID)
		}
	}
}

// run isolates a panicking Process call to the item that caused it.
func (d *Dispatcher) run(c model.Communication) Result {
	var res Result
	var pc panics.Catcher
	pc.Try(func() { res = d.processor.Process(d.ctx, c) })

	if r := pc.Recovered(); r != nil {
		d.logger.Error("analysis panicked",
			"communication_id", c.ID, "panic", r.Value, "stack", string(r.Stack))
		return Result{CommunicationID: c.ID, Err: r.AsError()}
	}
	return res
}
