package verified

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type job struct {
	ctx     context.Context
	op      string
	run     func(ctx context.Context) error
	barrier chan struct{}
}

// worker executes store jobs one at a time in submission order.
type worker struct {
	jobs    chan job
	quit    chan struct{}
	stopped chan struct{}

	// mu orders every accepted send before the final drain.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	timeout time.Duration
	onError func(error)

	dropped atomic.Uint64
	failed  atomic.Uint64
}

func newWorker(size int, timeout time.Duration, onError func(error)) *worker {
	if size <= 0 {
		size = 1
	}
	w := &worker{
		jobs:    make(chan job, size),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		timeout: timeout,
		onError: onError,
	}
	go w.run()
	return w
}

func (w *worker) run() {
	defer close(w.stopped)

	for {
		select {
		case j := <-w.jobs:
			w.exec(j)
		case <-w.quit:
			for {
				select {
				case j := <-w.jobs:
					w.exec(j)
				default:
					return
				}
			}
		}
	}
}

func (w *worker) exec(j job) {
	if j.barrier != nil {
		close(j.barrier)
		return
	}
	// Jobs whose caller went away before they started are dropped.
	if j.ctx.Err() != nil {
		w.dropped.Add(1)
		return
	}

	ctx := context.WithoutCancel(j.ctx)
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	if err := j.run(ctx); err != nil {
		w.failed.Add(1)
		if w.onError != nil {
			w.onError(fmt.Errorf("%w: %s: %v", ErrPersistence, j.op, err))
		}
	}
}

// submit enqueues without waiting for room.
func (w *worker) submit(ctx context.Context, op string, run func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.jobs <- job{ctx: ctx, op: op, run: run}:
		return nil
	default:
		w.dropped.Add(1)
		return ErrQueueFull
	}
}

// wait blocks until every job submitted before it has finished.
func (w *worker) wait(ctx context.Context) error {
	w.mu.RLock()
	closed := w.closed
	w.mu.RUnlock()
	if closed {
		<-w.stopped
		return nil
	}
	b := make(chan struct{})
	select {
	case w.jobs <- job{barrier: b}:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		return nil
	}
	select {
	case <-b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		return nil
	}
}

// close stops intake and drains queued jobs.
func (w *worker) close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.quit)
		w.mu.Unlock()
		<-w.stopped
	})
}

func (w *worker) queued() int { return len(w.jobs) }
