package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// ErrEngineClosed is returned when operating on a closed engine.
var ErrEngineClosed = errors.New("script engine is closed")

// call is one Lua operation queued for the engine goroutine.
type call struct {
	fn     func(L *lua.LState) error
	result chan error
}

// Engine owns a Lua state and serializes all operations on it through a
// single goroutine. Any goroutine may submit work with Do; the work runs
// in submission order on the goroutine that owns the state.
type Engine struct {
	l         *lua.LState
	calls     chan *call
	done      chan struct{}
	loopDone  chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	queueSize int
	openAll   bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithQueueSize sets how many pending operations the engine buffers
// before Do blocks. Values below one fall back to the default of 64.
func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// WithAllLibraries opens the complete Lua standard library, including io
// and os, instead of the default restricted subset. Only use this for
// trusted scripts.
func WithAllLibraries() Option {
	return func(e *Engine) {
		e.openAll = true
	}
}

// NewEngine creates a Lua engine and starts its goroutine. Close releases
// the state.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		queueSize: 64,
		done:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.calls = make(chan *call, e.queueSize)

	if e.openAll {
		e.l = lua.NewState()
	} else {
		e.l = lua.NewState(lua.Options{SkipOpenLibs: true})
		openSafeLibraries(e.l)
	}

	go e.run()
	return e
}

// openSafeLibraries opens only Lua standard libraries with no process or
// filesystem reach. io, os, debug, and package stay closed.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// run processes queued operations until Close. The Lua state is created,
// used, and released on this goroutine only.
func (e *Engine) run() {
	defer close(e.loopDone)
	for {
		select {
		case <-e.done:
			e.drain()
			e.l.Close()
			return
		case c := <-e.calls:
			err := e.apply(c.fn)
			select {
			case c.result <- err:
			default:
			}
			close(c.result)
		}
	}
}

// apply runs a single operation with panic recovery.
func (e *Engine) apply(fn func(L *lua.LState) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = v
			case string:
				err = errors.New(v)
			default:
				err = fmt.Errorf("lua panic: %v", v)
			}
		}
	}()
	return fn(e.l)
}

// drain answers queued operations that will never run.
func (e *Engine) drain() {
	for {
		select {
		case c := <-e.calls:
			select {
			case c.result <- ErrEngineClosed:
			default:
			}
			close(c.result)
		default:
			return
		}
	}
}

// Do runs fn on the engine goroutine and blocks until it completes or ctx
// is cancelled. fn receives the engine's state and must not retain it.
func (e *Engine) Do(ctx context.Context, fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	c := &call{fn: fn, result: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineClosed
	case e.calls <- c:
	}

	select {
	case <-ctx.Done():
		// The operation is queued and will still run; we stop waiting.
		return ctx.Err()
	case <-e.loopDone:
		// The engine exited after the enqueue. Take the answer if the
		// operation still ran, otherwise report the close.
		select {
		case err, ok := <-c.result:
			if ok {
				return err
			}
		default:
		}
		return ErrEngineClosed
	case err, ok := <-c.result:
		if !ok {
			return ErrEngineClosed
		}
		return err
	}
}

// DoString executes a chunk of Lua source.
func (e *Engine) DoString(ctx context.Context, code string) error {
	return e.Do(ctx, func(L *lua.LState) error {
		return L.DoString(code)
	})
}

// DoFile executes a Lua file.
func (e *Engine) DoFile(ctx context.Context, path string) error {
	return e.Do(ctx, func(L *lua.LState) error {
		return L.DoFile(path)
	})
}

// Call invokes a global Lua function by name. Arguments cross into Lua
// through the value bridge and results cross back out, so callers deal in
// plain Go values. Returns an empty slice when the function returns
// nothing.
func (e *Engine) Call(ctx context.Context, name string, args ...any) ([]any, error) {
	var results []any
	err := e.Do(ctx, func(L *lua.LState) error {
		fnVal := L.GetGlobal(name)
		if fnVal == lua.LNil {
			return fmt.Errorf("function %q not found", name)
		}
		if fnVal.Type() != lua.LTFunction {
			return fmt.Errorf("%q is not a function (got %s)", name, fnVal.Type())
		}

		top := L.GetTop()
		L.Push(fnVal)
		for _, arg := range args {
			L.Push(toLValue(L, arg))
		}
		if err := L.PCall(len(args), lua.MultRet, nil); err != nil {
			return err
		}

		nRet := L.GetTop() - top
		results = make([]any, nRet)
		for i := 0; i < nRet; i++ {
			results[i] = fromLValue(L.Get(top + i + 1))
		}
		L.Pop(nRet)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Close stops the engine and releases the Lua state. Queued operations
// complete with ErrEngineClosed. Close blocks until the engine goroutine
// exits or ctx is cancelled; it is safe to call more than once.
func (e *Engine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
	select {
	case <-e.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsClosed reports whether Close has been called.
func (e *Engine) IsClosed() bool {
	return e.closed.Load()
}
