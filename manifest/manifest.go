// Package manifest loads declarative event wiring from TOML or YAML.
//
// A manifest names events with their parameters and subscribes Lua
// callbacks to them:
//
//	[[events]]
//	name = "order.placed"
//	params = ["id", "total", "source"]
//
//	[[subscriptions]]
//	event = "order.placed"
//	script = "handlers/order.lua"
//	inputs = ["id", "source"]
//	defaults = { source = "web" }
//
// Load picks a loader by extension, Validate checks internal consistency,
// and Apply wires the result into a live dispatcher and script engine.
package manifest

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/baton"
)

// Manifest is a parsed manifest file.
type Manifest struct {
	// Events declares the dispatcher's event registry.
	Events []Event `toml:"events" yaml:"events"`

	// Subscriptions attaches script callbacks to declared events.
	Subscriptions []Subscription `toml:"subscriptions" yaml:"subscriptions"`

	// dir is the manifest file's directory, for resolving script paths.
	dir string
}

// Event declares one named event and its parameter set.
type Event struct {
	// Name identifies the event. Must be unique within the manifest.
	Name string `toml:"name" yaml:"name"`

	// Params lists the parameter names triggers may supply.
	Params []string `toml:"params" yaml:"params"`
}

// Subscription attaches one Lua callback to an event. Exactly one of
// Script and Source carries the chunk; the chunk must return a function.
type Subscription struct {
	// Event is the declared event to subscribe to.
	Event string `toml:"event" yaml:"event"`

	// Script is a path to a Lua file, relative to the manifest.
	Script string `toml:"script" yaml:"script"`

	// Source is an inline Lua chunk.
	Source string `toml:"source" yaml:"source"`

	// Inputs declares what the callback receives. A plain name is
	// required, a trailing "..." marks the catch-all.
	Inputs []string `toml:"inputs" yaml:"inputs"`

	// Defaults supplies fallback values by input name. Names not listed
	// in Inputs are declared implicitly.
	Defaults map[string]any `toml:"defaults" yaml:"defaults"`
}

// Validate checks the manifest for internal consistency: unique non-empty
// event names, subscriptions referencing declared events, exactly one
// chunk source each, and well-formed input lists. Binding against actual
// event parameters happens later, at subscribe time.
func (m *Manifest) Validate() error {
	events := make(map[string]struct{}, len(m.Events))
	for i, ev := range m.Events {
		if ev.Name == "" {
			return fmt.Errorf("events[%d]: name is empty", i)
		}
		if _, dup := events[ev.Name]; dup {
			return fmt.Errorf("events[%d]: duplicate event %q", i, ev.Name)
		}
		events[ev.Name] = struct{}{}

		params := make(map[string]struct{}, len(ev.Params))
		for _, p := range ev.Params {
			if p == "" {
				return fmt.Errorf("events[%d] (%s): empty parameter name", i, ev.Name)
			}
			if _, dup := params[p]; dup {
				return fmt.Errorf("events[%d] (%s): duplicate parameter %q", i, ev.Name, p)
			}
			params[p] = struct{}{}
		}
	}

	for i, sub := range m.Subscriptions {
		if sub.Event == "" {
			return fmt.Errorf("subscriptions[%d]: event is empty", i)
		}
		if _, ok := events[sub.Event]; !ok {
			return fmt.Errorf("subscriptions[%d]: unknown event %q", i, sub.Event)
		}
		switch {
		case sub.Script == "" && sub.Source == "":
			return fmt.Errorf("subscriptions[%d] (%s): needs a script or an inline source", i, sub.Event)
		case sub.Script != "" && sub.Source != "":
			return fmt.Errorf("subscriptions[%d] (%s): script and source are mutually exclusive", i, sub.Event)
		}

		catchAlls := 0
		names := make(map[string]struct{}, len(sub.Inputs))
		for _, in := range sub.Inputs {
			name := in
			if rest, ok := strings.CutSuffix(in, "..."); ok {
				catchAlls++
				name = rest
			}
			if name == "" {
				return fmt.Errorf("subscriptions[%d] (%s): empty input name", i, sub.Event)
			}
			if _, dup := names[name]; dup {
				return fmt.Errorf("subscriptions[%d] (%s): duplicate input %q", i, sub.Event, name)
			}
			names[name] = struct{}{}
		}
		if catchAlls > 1 {
			return fmt.Errorf("subscriptions[%d] (%s): more than one catch-all input", i, sub.Event)
		}
	}
	return nil
}

// inputs builds the subscription's input declarations. Listed inputs keep
// their order; defaults not listed follow in name order.
func (s *Subscription) inputs() []baton.Input {
	var ins []baton.Input
	listed := make(map[string]struct{}, len(s.Inputs))
	for _, in := range s.Inputs {
		if rest, ok := strings.CutSuffix(in, "..."); ok {
			ins = append(ins, baton.ArgCatchAll(rest))
			listed[rest] = struct{}{}
			continue
		}
		if dv, ok := s.Defaults[in]; ok {
			ins = append(ins, baton.ArgDefault(in, dv))
		} else {
			ins = append(ins, baton.Arg(in))
		}
		listed[in] = struct{}{}
	}

	extra := make([]string, 0, len(s.Defaults))
	for name := range s.Defaults {
		if _, ok := listed[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		ins = append(ins, baton.ArgDefault(name, s.Defaults[name]))
	}
	return ins
}

// resolve joins a script path with the manifest's directory.
func (m *Manifest) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || m.dir == "" {
		return path
	}
	return filepath.Join(m.dir, path)
}
