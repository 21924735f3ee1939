package baton

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// task is one in-flight callback invocation, tracked so shutdown knows what
// to wait for.
type task struct {
	id   string
	done chan struct{}
}

// Handler owns the callbacks subscribed to a single event and the lifecycle
// that governs delivery to them.
//
// Handlers created by Dispatcher.Register inherit the dispatcher's
// configuration. NewHandler builds a standalone one, which is mainly useful
// for testing callbacks in isolation.
type Handler struct {
	event    string
	params   []string
	declared map[string]struct{}

	cfg config

	// lifeMu serializes Start and Stop.
	lifeMu  sync.Mutex
	state   atomic.Int32
	drained chan struct{}

	mu       sync.Mutex
	bindings []*binding
	tasks    map[string]*task

	succeeded atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
}

// NewHandler creates a stopped handler for event with the declared parameter
// names.
func NewHandler(event string, params []string, opts ...Option) *Handler {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newHandler(event, params, cfg)
}

func newHandler(event string, params []string, cfg config) *Handler {
	declared := make(map[string]struct{}, len(params))
	for _, p := range params {
		declared[p] = struct{}{}
	}
	return &Handler{
		event:    event,
		params:   append([]string(nil), params...),
		declared: declared,
		cfg:      cfg,
		tasks:    make(map[string]*task),
	}
}

// Event returns the event name this handler serves.
func (h *Handler) Event() string {
	return h.event
}

// Params returns a copy of the declared parameter names.
func (h *Handler) Params() []string {
	return append([]string(nil), h.params...)
}

// State returns the current lifecycle state.
func (h *Handler) State() State {
	return State(h.state.Load())
}

// Subscribers returns the number of bound callbacks.
func (h *Handler) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bindings)
}

// Outstanding returns the number of in-flight callback invocations.
func (h *Handler) Outstanding() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tasks)
}

// Subscribe validates the callback's declared inputs against the event's
// parameters and binds it. Subscribing is allowed while running; it is
// rejected only while a shutdown is draining.
func (h *Handler) Subscribe(cb Callback, inputs ...Input) error {
	if s := h.State(); s == StateStopping {
		return &InvalidStateError{Op: "subscribe", State: s}
	}
	b, err := newBinding(h.event, cb, inputs, h.declared, h.params)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.bindings = append(h.bindings, b)
	h.mu.Unlock()
	return nil
}

// Start makes the handler accept deliveries. It is idempotent. When a prior
// stop is still draining, Start waits for the drain to finish, then rearms.
func (h *Handler) Start(ctx context.Context) error {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	switch h.State() {
	case StateRunning:
		return nil
	case StateStopping:
		select {
		case <-h.drained:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	h.drained = make(chan struct{})
	h.state.Store(int32(StateRunning))
	h.cfg.log.Debug().Str("event", h.event).Msg("handler started")
	return nil
}

// Deliver fans args out to every bound callback as an independently
// scheduled task. The handler must be running.
func (h *Handler) Deliver(ctx context.Context, args Args) error {
	h.mu.Lock()
	if s := h.State(); s != StateRunning {
		h.mu.Unlock()
		return &InvalidStateError{Op: "deliver", State: s}
	}
	spawned := make([]taskBinding, 0, len(h.bindings))
	for _, b := range h.bindings {
		t := &task{id: uuid.NewString(), done: make(chan struct{})}
		h.tasks[t.id] = t
		spawned = append(spawned, taskBinding{b: b, t: t})
	}
	h.mu.Unlock()

	// Submission happens outside the lock: a bounded executor may block
	// here, and completions need the lock to deregister themselves.
	for _, s := range spawned {
		b, t := s.b, s.t
		h.cfg.exec.Go(func() {
			h.runTask(ctx, b, t, args)
		})
	}
	return nil
}

// taskBinding pairs a spawned task record with the binding it will invoke.
type taskBinding struct {
	b *binding
	t *task
}

func (h *Handler) runTask(ctx context.Context, b *binding, t *task, args Args) {
	defer func() {
		if r := recover(); r != nil {
			h.panicked.Add(1)
			h.reportPanic(r, debug.Stack())
		}
		h.removeTask(t.id)
		close(t.done)
	}()

	if err := b.invoke(ctx, args); err != nil {
		h.failed.Add(1)
		h.reportError(err)
		return
	}
	h.succeeded.Add(1)
}

// removeTask drops a completed task from the outstanding set. An entry that
// is already gone is not an error.
func (h *Handler) removeTask(id string) {
	h.mu.Lock()
	delete(h.tasks, id)
	h.mu.Unlock()
}

func (h *Handler) reportError(err error) {
	if h.cfg.errFn == nil {
		h.cfg.log.Error().Err(err).Str("event", h.event).Msg("callback failed")
		return
	}
	func() {
		defer func() { _ = recover() }()
		h.cfg.errFn(h.event, err)
	}()
}

func (h *Handler) reportPanic(v any, stack []byte) {
	if h.cfg.panicFn == nil {
		h.cfg.log.Error().Interface("panic", v).Str("event", h.event).Bytes("stack", stack).Msg("callback panicked")
		return
	}
	func() {
		defer func() { _ = recover() }()
		h.cfg.panicFn(h.event, v, stack)
	}()
}

// Stop drains the handler: no new deliveries are accepted, and every
// invocation already in flight is waited for. It is idempotent. On context
// cancellation Stop returns ctx.Err() while a background finisher completes
// the drain and the transition to StateStopped, so a later Start still
// works.
func (h *Handler) Stop(ctx context.Context) error {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	if h.State() != StateRunning {
		return nil
	}
	h.state.Store(int32(StateStopping))

	// Snapshot the outstanding set. Tasks spawned by a Deliver that raced
	// the state change are already in the map by the time it releases the
	// lock, so they are included.
	h.mu.Lock()
	snapshot := make([]*task, 0, len(h.tasks))
	for _, t := range h.tasks {
		snapshot = append(snapshot, t)
	}
	h.mu.Unlock()

	drained := h.drained
	go func() {
		for _, t := range snapshot {
			<-t.done
		}
		h.state.Store(int32(StateStopped))
		close(drained)
		h.cfg.log.Debug().Str("event", h.event).Int("waited", len(snapshot)).Msg("handler stopped")
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) resetStats() {
	h.succeeded.Store(0)
	h.failed.Store(0)
	h.panicked.Store(0)
}
