package baton

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// Dispatcher routes triggered events to the handlers subscribed to them.
//
// Triggers enqueue without blocking; a single consumer goroutine dequeues in
// FIFO order and fans each delivery out through the event's Handler. Start
// and Stop are idempotent, and a fully stopped dispatcher can be started
// again; deliveries queued while stopped are consumed after the next Start.
type Dispatcher struct {
	cfg config

	// mu guards the registry and the per-run channels.
	mu       sync.Mutex
	handlers map[string]*Handler
	wake     chan struct{}
	stopCh   chan struct{}
	loopDone chan struct{}

	// lifeMu serializes Start and Stop.
	lifeMu  sync.Mutex
	state   atomic.Int32
	drained chan struct{}

	queue *queue

	triggered atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a stopped Dispatcher. Without options it schedules callbacks
// with GoExecutor and discards log output.
func New(opts ...Option) *Dispatcher {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{
		cfg:      cfg,
		handlers: make(map[string]*Handler),
		queue:    newQueue(),
	}
}

// Register declares an event and the parameter names its triggers will
// supply. Registering a name that already exists fails with
// *DuplicateEventError and leaves the existing registration untouched.
// Registering on a running dispatcher is allowed; the new handler accepts
// deliveries immediately.
func (d *Dispatcher) Register(event string, params ...string) error {
	h := newHandler(event, params, d.cfg)

	d.mu.Lock()
	if _, exists := d.handlers[event]; exists {
		d.mu.Unlock()
		return &DuplicateEventError{Event: event}
	}
	d.handlers[event] = h
	d.mu.Unlock()

	if d.State() == StateRunning {
		// A fresh handler is stopped with no drain pending, so this cannot
		// block.
		return h.Start(context.Background())
	}
	return nil
}

// Unregister removes an event and its handler. Removing an unknown event is
// a no-op. Invocations already in flight for the event are not interrupted,
// and deliveries still queued for it will be dropped at consumption time.
func (d *Dispatcher) Unregister(event string) {
	d.mu.Lock()
	delete(d.handlers, event)
	d.mu.Unlock()
}

// On returns the handler registered for event so callbacks can be
// subscribed to it. Unlike Trigger, asking for an unknown event is an error.
func (d *Dispatcher) On(event string) (*Handler, error) {
	d.mu.Lock()
	h := d.handlers[event]
	d.mu.Unlock()
	if h == nil {
		return nil, &UnknownEventError{Event: event}
	}
	return h, nil
}

// Subscribe binds a callback to event with its declared inputs. The
// declaration is validated immediately; binding problems surface here, not
// at delivery time.
func (d *Dispatcher) Subscribe(event string, cb Callback, inputs ...Input) error {
	h, err := d.On(event)
	if err != nil {
		return err
	}
	return h.Subscribe(cb, inputs...)
}

// Trigger enqueues a delivery and wakes the consumer if it is idle. It never
// blocks and never fails: a delivery for an event with no registration is
// silently dropped when it is consumed, and deliveries enqueued while the
// dispatcher is stopped wait for the next Start.
func (d *Dispatcher) Trigger(event string, args Args) {
	d.queue.push(delivery{event: event, args: args})
	d.triggered.Add(1)

	d.mu.Lock()
	wake := d.wake
	d.mu.Unlock()
	if wake == nil {
		return
	}
	select {
	case wake <- struct{}{}:
	default:
	}
}

// Start begins consuming triggered events: every registered handler is
// started and the consumer goroutine is spawned. It is idempotent. When a
// prior Stop is still draining, Start waits for the drain to finish, then
// rearms and restarts.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	switch d.State() {
	case StateRunning:
		return nil
	case StateStopping:
		select {
		case <-d.drained:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	wake := make(chan struct{}, 1)
	stopCh := make(chan struct{})
	loopDone := make(chan struct{})

	d.mu.Lock()
	d.wake = wake
	d.stopCh = stopCh
	d.loopDone = loopDone
	handlers := make([]*Handler, 0, len(d.handlers))
	for _, h := range d.handlers {
		handlers = append(handlers, h)
	}
	d.mu.Unlock()

	d.drained = make(chan struct{})
	d.state.Store(int32(StateRunning))

	for _, h := range handlers {
		if err := h.Start(ctx); err != nil {
			return err
		}
	}

	go d.run(wake, stopCh, loopDone)
	d.cfg.log.Debug().Int("handlers", len(handlers)).Msg("dispatcher started")
	return nil
}

// Stop drains the dispatcher. The consumer loop is signaled first, then
// every handler finishes its outstanding invocations, then the loop's exit
// is awaited; only after all three is the dispatcher stopped. Stop is
// idempotent. On context cancellation it returns ctx.Err() while a
// background finisher completes the drain and the transition to
// StateStopped, so a later Start still works.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	if d.State() != StateRunning {
		return nil
	}
	d.state.Store(int32(StateStopping))

	d.mu.Lock()
	stopCh := d.stopCh
	loopDone := d.loopDone
	handlers := make([]*Handler, 0, len(d.handlers))
	for _, h := range d.handlers {
		handlers = append(handlers, h)
	}
	d.mu.Unlock()

	// Closing the stop channel both signals shutdown and wakes the loop if
	// it is idle.
	close(stopCh)

	drained := d.drained
	go func() {
		var wg sync.WaitGroup
		for _, h := range handlers {
			wg.Add(1)
			go func(h *Handler) {
				defer wg.Done()
				_ = h.Stop(context.Background())
			}(h)
		}
		wg.Wait()
		<-loopDone
		d.state.Store(int32(StateStopped))
		close(drained)
		d.cfg.log.Debug().Int("pending", d.queue.len()).Msg("dispatcher stopped")
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear discards all pending deliveries. Draining the queue under a live
// consumer is unsafe, so Clear fails unless the dispatcher is fully
// stopped.
func (d *Dispatcher) Clear() error {
	if s := d.State(); s != StateStopped {
		return &InvalidStateError{Op: "clear", State: s}
	}
	d.queue.clear()
	return nil
}

// Pending reports the number of queued, undelivered triggers.
func (d *Dispatcher) Pending() int {
	return d.queue.len()
}

// Events returns the registered event names, sorted.
func (d *Dispatcher) Events() []string {
	d.mu.Lock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	d.mu.Unlock()
	sort.Strings(names)
	return names
}

// State returns the dispatcher lifecycle state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Stats returns a snapshot of the dispatcher counters, aggregating the
// outcome counts of every currently registered handler.
func (d *Dispatcher) Stats() Stats {
	s := Stats{
		Triggered: d.triggered.Load(),
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
		Pending:   d.queue.len(),
	}
	d.mu.Lock()
	for _, h := range d.handlers {
		s.Succeeded += h.succeeded.Load()
		s.Failed += h.failed.Load()
		s.Panicked += h.panicked.Load()
	}
	d.mu.Unlock()
	return s
}

// ResetStats zeroes all counters, including those of registered handlers.
// For stable numbers, call it while stopped.
func (d *Dispatcher) ResetStats() {
	d.triggered.Store(0)
	d.delivered.Store(0)
	d.dropped.Store(0)
	d.mu.Lock()
	for _, h := range d.handlers {
		h.resetStats()
	}
	d.mu.Unlock()
}

// run is the consumer loop. It drains the queue in FIFO order until stopCh
// closes, then signals its exit by closing done. Deliveries left in the
// queue at exit stay there for the next run.
func (d *Dispatcher) run(wake, stopCh, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		dl, ok := d.queue.pop()
		if !ok {
			select {
			case <-wake:
			case <-stopCh:
				return
			}
			continue
		}
		d.dispatch(dl)
	}
}

// dispatch routes one delivery to its handler.
func (d *Dispatcher) dispatch(dl delivery) {
	d.mu.Lock()
	h := d.handlers[dl.event]
	d.mu.Unlock()

	if h == nil {
		d.dropped.Add(1)
		d.cfg.log.Debug().Str("event", dl.event).Msg("dropping delivery for unregistered event")
		return
	}

	if err := h.Deliver(d.cfg.ctx, dl.args); err != nil {
		if d.State() == StateStopping {
			// Shutdown raced the pop. Put the delivery back at the head so
			// the next run consumes it in order.
			d.queue.pushFront(dl)
			return
		}
		d.dropped.Add(1)
		d.cfg.log.Warn().Err(err).Str("event", dl.event).Msg("dropping delivery; handler not running")
		return
	}
	d.delivered.Add(1)
}
