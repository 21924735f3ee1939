package baton

import (
	"context"
	"fmt"
	"sort"
)

// Input declares one parameter a callback expects to receive.
//
// Inputs replace dynamic signature inspection: the subscriber states, at
// subscribe time, exactly which parameters the callback consumes, and the
// binder validates the declaration against the event's parameter set once
// rather than at every delivery.
type Input struct {
	// Name is the parameter name.
	Name string

	// Default is bound when a trigger does not supply Name.
	Default any

	// HasDefault reports whether Default is meaningful. An input without a
	// default is required at delivery time.
	HasDefault bool

	// CatchAll marks an input that absorbs every supplied parameter not
	// named by another input.
	CatchAll bool

	// Variadic marks a variable-length positional parameter. Declarations
	// containing one are always rejected: a delivery supplies a single flat
	// mapping, never a positional list.
	Variadic bool
}

// Arg declares a required input.
func Arg(name string) Input {
	return Input{Name: name}
}

// ArgDefault declares an input with a default value.
func ArgDefault(name string, value any) Input {
	return Input{Name: name, Default: value, HasDefault: true}
}

// ArgCatchAll declares a catch-all input. Supplied parameters not matched by
// a named input are collected into a nested Args bound under name.
func ArgCatchAll(name string) Input {
	return Input{Name: name, CatchAll: true}
}

// ArgVariadic declares a variadic positional input. It exists so adapters
// for dynamic callables can describe such signatures faithfully; binding
// always rejects it.
func ArgVariadic(name string) Input {
	return Input{Name: name, Variadic: true}
}

// absentValue marks a required input that has no value yet.
type absentValue struct{}

func (absentValue) String() string { return "<absent>" }

// binding is one callback bound to one event: the callback, its declared
// inputs, and the precomputed base mapping its invocations start from.
type binding struct {
	event    string
	cb       Callback
	inputs   []Input
	base     Args
	catchAll string
}

// newBinding validates inputs against the event's declared parameters and
// precomputes the default mapping. All failures are *BindingError.
func newBinding(event string, cb Callback, inputs []Input, declared map[string]struct{}, available []string) (*binding, error) {
	if cb == nil {
		return nil, &BindingError{Event: event, Reason: "callback is nil"}
	}

	b := &binding{
		event:  event,
		cb:     cb,
		inputs: inputs,
		base:   make(Args, len(inputs)),
	}

	seen := make(map[string]struct{}, len(inputs))
	var missing []string
	for _, in := range inputs {
		if in.Name == "" {
			return nil, &BindingError{Event: event, Reason: "input has an empty name"}
		}
		if _, dup := seen[in.Name]; dup {
			return nil, &BindingError{
				Event:  event,
				Reason: fmt.Sprintf("input %q declared more than once", in.Name),
			}
		}
		seen[in.Name] = struct{}{}

		switch {
		case in.Variadic:
			return nil, &BindingError{
				Event: event,
				Reason: fmt.Sprintf("input %q is variadic positional; a delivery always supplies a single flat mapping", in.Name),
			}
		case in.CatchAll:
			if b.catchAll != "" {
				return nil, &BindingError{
					Event:  event,
					Reason: fmt.Sprintf("inputs %q and %q are both declared catch-all", b.catchAll, in.Name),
				}
			}
			if _, clash := declared[in.Name]; clash {
				return nil, &BindingError{
					Event:     event,
					Reason:    fmt.Sprintf("catch-all input %q masks a parameter supplied by the event", in.Name),
					Available: sortedNames(available),
				}
			}
			b.catchAll = in.Name
		default:
			if _, ok := declared[in.Name]; !ok {
				missing = append(missing, in.Name)
			}
			if in.HasDefault {
				b.base[in.Name] = in.Default
			} else {
				b.base[in.Name] = absentValue{}
			}
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &BindingError{
			Event:     event,
			Reason:    "inputs not supplied by the event",
			Missing:   missing,
			Available: sortedNames(available),
		}
	}
	return b, nil
}

// invoke composes the final Args for one delivery and calls the callback.
// Required inputs with no supplied value fail with a *BindingError before
// the callback runs.
func (b *binding) invoke(ctx context.Context, args Args) error {
	bound := make(Args, len(b.base)+1)
	var unfilled []string
	for name, def := range b.base {
		if v, ok := args[name]; ok {
			bound[name] = v
			continue
		}
		if _, isAbsent := def.(absentValue); isAbsent {
			unfilled = append(unfilled, name)
			continue
		}
		bound[name] = def
	}
	if len(unfilled) > 0 {
		sort.Strings(unfilled)
		return &BindingError{
			Event:   b.event,
			Reason:  "required inputs not supplied by the trigger",
			Missing: unfilled,
		}
	}

	if b.catchAll != "" {
		rest := make(Args)
		for name, v := range args {
			if _, named := b.base[name]; !named {
				rest[name] = v
			}
		}
		bound[b.catchAll] = rest
	}

	return b.cb(ctx, bound)
}

func sortedNames(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	sort.Strings(out)
	return out
}
