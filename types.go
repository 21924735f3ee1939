package baton

import "context"

// State describes the lifecycle phase of a Dispatcher or Handler.
type State int32

const (
	// StateStopped means no deliveries are processed. Initial and terminal.
	StateStopped State = iota

	// StateRunning means deliveries are accepted and processed.
	StateRunning

	// StateStopping means a shutdown is in progress and outstanding
	// invocations are draining.
	StateStopping
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Args is a flat parameter mapping. Triggers supply one per delivery, and
// callbacks receive one composed from their declared inputs.
type Args map[string]any

// Callback is a unit of work subscribed to an event. It runs once per
// delivery per subscription, scheduled through the configured Executor.
type Callback func(ctx context.Context, args Args) error

// ErrorHandler receives errors returned by callback invocations, including
// call-time binding failures.
type ErrorHandler func(event string, err error)

// PanicHandler receives recovered callback panics with the stack captured at
// the time of the panic.
type PanicHandler func(event string, recovered any, stack []byte)

// Stats contains dispatcher counters.
type Stats struct {
	// Triggered is the total number of deliveries enqueued.
	Triggered uint64

	// Delivered is the number of deliveries routed to a running handler.
	Delivered uint64

	// Dropped is the number of deliveries consumed without a handler to
	// take them.
	Dropped uint64

	// Succeeded is the number of callback invocations that returned nil.
	Succeeded uint64

	// Failed is the number of callback invocations that returned an error
	// or failed call-time binding.
	Failed uint64

	// Panicked is the number of callback invocations that panicked.
	Panicked uint64

	// Pending is the current delivery queue depth.
	Pending int
}
