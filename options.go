package baton

import (
	"context"

	"github.com/rs/zerolog"
)

// Option configures a Dispatcher or a standalone Handler.
type Option func(*config)

// config carries the knobs shared by dispatchers and the handlers they
// create.
type config struct {
	// exec schedules callback invocations.
	exec Executor

	// log receives diagnostic output.
	log zerolog.Logger

	// errFn receives callback errors. Nil means log them.
	errFn ErrorHandler

	// panicFn receives recovered callback panics. Nil means log them.
	panicFn PanicHandler

	// ctx is the base context passed to callbacks.
	ctx context.Context
}

func defaultConfig() config {
	return config{
		exec: GoExecutor{},
		log:  zerolog.Nop(),
		ctx:  context.Background(),
	}
}

// WithExecutor sets the executor callback invocations are scheduled on.
func WithExecutor(e Executor) Option {
	return func(c *config) {
		if e != nil {
			c.exec = e
		}
	}
}

// WithLogger sets the logger. The default discards all output.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) {
		c.log = l
	}
}

// WithErrorHandler sets the function receiving callback errors. Without one,
// errors are logged at error level.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(c *config) {
		c.errFn = fn
	}
}

// WithPanicHandler sets the function receiving recovered callback panics.
// Without one, panics are logged at error level.
func WithPanicHandler(fn PanicHandler) Option {
	return func(c *config) {
		c.panicFn = fn
	}
}

// WithContext sets the base context passed to callback invocations. Stopping
// the dispatcher does not cancel it; shutdown waits for callbacks rather
// than interrupting them.
func WithContext(ctx context.Context) Option {
	return func(c *config) {
		if ctx != nil {
			c.ctx = ctx
		}
	}
}
