package baton

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for matching with errors.Is.
var (
	// ErrDuplicateEvent is returned when registering an event name that
	// already exists.
	ErrDuplicateEvent = errors.New("event already registered")

	// ErrUnknownEvent is returned when subscribing to an event that was
	// never registered.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrBinding is returned when a callback's declared inputs cannot be
	// satisfied by its event's parameters.
	ErrBinding = errors.New("callback binding failed")

	// ErrInvalidState is returned when an operation is not permitted in the
	// current lifecycle state.
	ErrInvalidState = errors.New("operation invalid in current state")
)

// DuplicateEventError reports a Register call for an event name already in
// the registry. The existing registration is left untouched.
type DuplicateEventError struct {
	// Event is the already-registered event name.
	Event string
}

// Error implements the error interface.
func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("event %q already registered", e.Event)
}

// Is allows errors.Is to match DuplicateEventError with ErrDuplicateEvent.
func (e *DuplicateEventError) Is(target error) bool {
	return target == ErrDuplicateEvent
}

// UnknownEventError reports a subscription attempt against an event name with
// no registration.
type UnknownEventError struct {
	// Event is the unknown event name.
	Event string
}

// Error implements the error interface.
func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown event %q", e.Event)
}

// Is allows errors.Is to match UnknownEventError with ErrUnknownEvent.
func (e *UnknownEventError) Is(target error) bool {
	return target == ErrUnknownEvent
}

// BindingError reports a callback whose declared inputs cannot be satisfied
// by the parameters its event supplies. It is returned at subscribe time for
// declaration problems and at delivery time when a required input is not
// supplied.
type BindingError struct {
	// Event is the event the callback was bound against.
	Event string

	// Reason describes what could not be satisfied.
	Reason string

	// Missing lists input names the event does not (or the trigger did not)
	// supply. Sorted. Empty when not applicable.
	Missing []string

	// Available lists the parameter names the event supplies. Sorted. Empty
	// when not applicable.
	Available []string
}

// Error implements the error interface.
func (e *BindingError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cannot bind callback to event %q: %s", e.Event, e.Reason)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Missing, ", "))
	}
	if len(e.Available) > 0 {
		fmt.Fprintf(&b, " (available: %s)", strings.Join(e.Available, ", "))
	}
	return b.String()
}

// Is allows errors.Is to match BindingError with ErrBinding.
func (e *BindingError) Is(target error) bool {
	return target == ErrBinding
}

// InvalidStateError reports an operation attempted in a lifecycle state that
// does not permit it.
type InvalidStateError struct {
	// Op is the rejected operation.
	Op string

	// State is the lifecycle state at the time of the call.
	State State
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: not permitted while %s", e.Op, e.State)
}

// Is allows errors.Is to match InvalidStateError with ErrInvalidState.
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}
