// Package baton is an in-process event dispatcher with declared parameters,
// validated callback binding, and a drain-on-stop lifecycle.
//
// A Dispatcher owns a registry of named events. Each event declares, once,
// the set of parameter names its triggers will supply. Callbacks subscribe
// to an event by declaring the inputs they consume; the declaration is
// validated against the event's parameters at subscribe time, so a callback
// that asks for something its event will never supply fails immediately
// rather than on some later delivery.
//
// # Delivery Model
//
// Trigger enqueues a delivery and returns; it never blocks and never fails.
// A single consumer goroutine dequeues deliveries in strict FIFO order and
// routes each to its event's Handler, which fans it out to every bound
// callback as an independently scheduled task. Tasks for one delivery run
// concurrently with each other and with the consumer; ordering is guaranteed
// across deliveries, not across the callbacks of one delivery.
//
// Deliveries for events with no registration are silently dropped when they
// are consumed. Subscribing to an unregistered event, by contrast, is an
// error: triggers may legitimately race unregistration, subscriptions may
// not.
//
// # Lifecycle
//
// Start and Stop are idempotent and the dispatcher is restartable:
//
//	Stopped -> Running -> Stopping -> Stopped
//
// Stop signals the consumer, waits for every in-flight callback invocation
// to finish (tracked per handler in an outstanding-task set), and then waits
// for the consumer to exit. Nothing is cancelled mid-flight and nothing is
// lost: deliveries still queued when Stop completes remain queued and are
// consumed after the next Start. A Start that races an unfinished Stop
// waits for the drain to complete before restarting.
//
// # Binding
//
// Inputs are declared statically with Arg, ArgDefault, ArgCatchAll and
// ArgVariadic:
//
//	d := baton.New()
//	_ = d.Register("order.placed", "id", "total", "source")
//
//	err := d.Subscribe("order.placed", func(ctx context.Context, args baton.Args) error {
//	    fmt.Println(args["id"], args["total"], args["source"])
//	    return nil
//	}, baton.Arg("id"), baton.Arg("total"), baton.ArgDefault("source", "web"))
//
//	_ = d.Start(ctx)
//	d.Trigger("order.placed", baton.Args{"id": 42, "total": 99.5})
//	_ = d.Stop(ctx)
//
// An input without a default is required: a trigger that omits it fails that
// invocation with a *BindingError before the callback runs. A catch-all
// input absorbs every supplied parameter not named by another input, bound
// as a nested Args under the catch-all's name; its name must not collide
// with a parameter the event declares.
//
// # Scheduling
//
// Callback tasks run on an injected Executor. The default GoExecutor spawns
// one goroutine per task. A PoolExecutor bounds concurrency with a fixed
// worker set; NewPoolExecutor(1, n) yields fully serial callback execution,
// which keeps observation order deterministic in tests.
//
// # Failure Isolation
//
// Callback errors and panics never disturb the dispatcher. They are counted,
// routed to the WithErrorHandler and WithPanicHandler hooks (or logged when
// no hook is set), and the invocation still counts as complete so shutdown
// draining always proceeds.
//
// # Thread Safety
//
// All Dispatcher and Handler methods are safe for concurrent use. Events can
// be registered, unregistered and subscribed to while the dispatcher is
// running.
//
// # Subpackages
//
//   - script: Lua-scripted callbacks and triggers via a serialized engine
//   - manifest: declarative TOML/YAML event and subscription manifests
//   - fswatch: filesystem change triggers
package baton
