package baton

import (
	"context"
	"sync"
)

// Executor schedules callback invocations as concurrent tasks. The dispatcher
// never runs callbacks inline; every invocation goes through the configured
// Executor, so embedding applications control where callback work runs.
//
// Implementations must run every accepted function exactly once. Go may block
// until capacity is available, but it must not drop work: shutdown draining
// depends on each spawned invocation eventually completing.
type Executor interface {
	Go(fn func())
}

// GoExecutor runs each task on its own goroutine. It is the default.
type GoExecutor struct{}

// Go implements Executor.
func (GoExecutor) Go(fn func()) {
	go fn()
}

// PoolExecutor runs tasks on a fixed set of worker goroutines fed by a
// bounded queue. A single-worker pool executes tasks serially in submission
// order, which makes delivery observation deterministic.
type PoolExecutor struct {
	mu     sync.RWMutex
	tasks  chan func()
	closed bool

	wg   sync.WaitGroup
	done chan struct{}
}

// NewPoolExecutor creates and starts a pool. Worker and queue size values
// below one are raised to one.
func NewPoolExecutor(workers, queueSize int) *PoolExecutor {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	p := &PoolExecutor{
		tasks: make(chan func(), queueSize),
		done:  make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *PoolExecutor) worker() {
	defer p.wg.Done()
	for fn := range p.tasks {
		fn()
	}
}

// Go implements Executor. It blocks while the queue is full. After Close it
// runs fn on the calling goroutine so accepted work is never lost.
func (p *PoolExecutor) Go(fn func()) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		fn()
		return
	}
	// Submitting under the read lock keeps Close from closing the channel
	// while a send is in flight.
	p.tasks <- fn
	p.mu.RUnlock()
}

// Close stops intake, lets the workers finish everything already queued, and
// joins them. It is idempotent; concurrent and repeated calls wait for the
// same drain. The context bounds only the wait, not the drain itself.
func (p *PoolExecutor) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
		go func() {
			p.wg.Wait()
			close(p.done)
		}()
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
