package script

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/baton"
)

// handlerGlobal roots subscribed functions in the Lua globals so they
// survive garbage collection for the life of the state.
const handlerGlobal = "_baton_handlers"

// module wires a dispatcher into a Lua state as the global "baton" table.
type module struct {
	d   *baton.Dispatcher
	eng *Engine

	handlers *lua.LTable
	nextID   atomic.Uint64
}

// Install exposes d to scripts as a global table named "baton" with the
// functions register, on, trigger, and pending. Subscribed Lua functions
// run as ordinary dispatcher callbacks, serialized through the engine.
// Subscriptions last for the dispatcher's lifetime.
func (e *Engine) Install(ctx context.Context, d *baton.Dispatcher) error {
	m := &module{d: d, eng: e}
	return e.Do(ctx, func(L *lua.LState) error {
		m.handlers = L.NewTable()
		L.SetGlobal(handlerGlobal, m.handlers)

		mod := L.NewTable()
		L.SetField(mod, "register", L.NewFunction(m.register))
		L.SetField(mod, "on", L.NewFunction(m.on))
		L.SetField(mod, "trigger", L.NewFunction(m.trigger))
		L.SetField(mod, "pending", L.NewFunction(m.pending))
		L.SetGlobal("baton", mod)
		return nil
	})
}

// register(name, params...) declares an event. Parameters are given as
// trailing strings or as a single list table.
func (m *module) register(L *lua.LState) int {
	name := L.CheckString(1)

	var params []string
	if tbl, ok := L.Get(2).(*lua.LTable); ok && L.GetTop() == 2 {
		var badErr error
		tbl.ForEach(func(_, v lua.LValue) {
			s, ok := v.(lua.LString)
			if !ok {
				if badErr == nil {
					badErr = fmt.Errorf("params must be strings, got %s", v.Type())
				}
				return
			}
			params = append(params, string(s))
		})
		if badErr != nil {
			L.ArgError(2, badErr.Error())
			return 0
		}
	} else {
		for i := 2; i <= L.GetTop(); i++ {
			params = append(params, L.CheckString(i))
		}
	}
	if err := m.d.Register(name, params...); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	return 0
}

// on(name, fn, inputs?) subscribes fn to an event. Returns the handler
// slot number. The optional inputs list declares what fn receives: a
// string names a required input, a {name = value} entry supplies a
// default, and a "name..." string declares the catch-all.
func (m *module) on(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)

	var inputs []baton.Input
	if L.GetTop() >= 3 {
		parsed, err := parseInputs(L.CheckTable(3))
		if err != nil {
			L.ArgError(3, err.Error())
			return 0
		}
		inputs = parsed
	}

	slot := int(m.nextID.Add(1))
	m.handlers.RawSetInt(slot, fn)

	if err := m.d.Subscribe(name, m.callback(slot), inputs...); err != nil {
		m.handlers.RawSetInt(slot, lua.LNil)
		L.RaiseError("%s", err.Error())
		return 0
	}

	L.Push(lua.LNumber(slot))
	return 1
}

// trigger(name, args?) queues a delivery. Like the Go side, unknown
// events vanish without an error.
func (m *module) trigger(L *lua.LState) int {
	name := L.CheckString(1)

	var args baton.Args
	if tbl := L.OptTable(2, nil); tbl != nil {
		args = tableToArgs(tbl)
	}
	m.d.Trigger(name, args)
	return 0
}

// pending() returns the number of queued deliveries.
func (m *module) pending(L *lua.LState) int {
	L.Push(lua.LNumber(m.d.Pending()))
	return 1
}

// callback builds the Go callback that invokes the Lua function stored at
// slot. The function is fetched and called on the engine goroutine.
func (m *module) callback(slot int) baton.Callback {
	return func(ctx context.Context, args baton.Args) error {
		return m.eng.Do(ctx, func(L *lua.LState) error {
			fn := m.handlers.RawGetInt(slot)
			if fn.Type() != lua.LTFunction {
				return nil
			}
			L.Push(fn)
			L.Push(argsToTable(L, args))
			return L.PCall(1, 0, nil)
		})
	}
}

// parseInputs converts a Lua input list into subscription inputs.
func parseInputs(tbl *lua.LTable) ([]baton.Input, error) {
	var inputs []baton.Input
	n := tbl.Len()
	for i := 1; i <= n; i++ {
		switch v := tbl.RawGetInt(i).(type) {
		case lua.LString:
			name := string(v)
			if rest, ok := strings.CutSuffix(name, "..."); ok {
				inputs = append(inputs, baton.ArgCatchAll(rest))
				continue
			}
			inputs = append(inputs, baton.Arg(name))
		case *lua.LTable:
			var badErr error
			v.ForEach(func(k, dv lua.LValue) {
				ks, ok := k.(lua.LString)
				if !ok {
					if badErr == nil {
						badErr = fmt.Errorf("input %d: default keys must be strings, got %s", i, k.Type())
					}
					return
				}
				inputs = append(inputs, baton.ArgDefault(string(ks), fromLValue(dv)))
			})
			if badErr != nil {
				return nil, badErr
			}
		default:
			return nil, fmt.Errorf("input %d: want a name or a {name=default} table, got %s", i, v.Type())
		}
	}
	return inputs, nil
}
