package script

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/baton"
)

// CallbackString compiles a Lua chunk that returns a function and wraps
// that function as a dispatcher callback. The chunk runs once, at load
// time:
//
//	return function(args)
//	    print(args.id)
//	end
func (e *Engine) CallbackString(ctx context.Context, source string) (baton.Callback, error) {
	return e.chunkCallback(ctx, "chunk", func(L *lua.LState) error {
		return L.DoString(source)
	})
}

// CallbackFile is CallbackString for a Lua file.
func (e *Engine) CallbackFile(ctx context.Context, path string) (baton.Callback, error) {
	return e.chunkCallback(ctx, fmt.Sprintf("script %s", path), func(L *lua.LState) error {
		return L.DoFile(path)
	})
}

// chunkCallback runs a chunk, takes the function it returns, and adapts
// it to the callback signature. The Go closure keeps the Lua function
// alive; each delivery runs it on the engine goroutine.
func (e *Engine) chunkCallback(ctx context.Context, what string, load func(L *lua.LState) error) (baton.Callback, error) {
	var fn *lua.LFunction
	err := e.Do(ctx, func(L *lua.LState) error {
		top := L.GetTop()
		defer L.SetTop(top)
		if err := load(L); err != nil {
			return err
		}
		ret := L.Get(top + 1)
		f, ok := ret.(*lua.LFunction)
		if !ok {
			return fmt.Errorf("%s returned %s, want a function", what, ret.Type())
		}
		fn = f
		return nil
	})
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, args baton.Args) error {
		return e.Do(ctx, func(L *lua.LState) error {
			L.Push(fn)
			L.Push(argsToTable(L, args))
			return L.PCall(1, 0, nil)
		})
	}, nil
}
