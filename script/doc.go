// Package script hosts Lua callbacks for a dispatcher.
//
// The package embeds gopher-lua. A single Engine owns one Lua state and
// serializes every entry into it through a call channel, because LStates
// are not goroutine-safe while dispatcher fan-out is concurrent. Scripts
// see a global table named "baton" (installed by [Engine.Install]) with
// functions to register events, subscribe callbacks, trigger deliveries,
// and inspect the queue:
//
//	baton.register("order.placed", "id", "total", "source")
//	baton.on("order.placed", function(args)
//	    print("order " .. args.id .. " via " .. args.source)
//	end, {"id", {source = "web"}})
//	baton.trigger("order.placed", {id = 42, total = 99.5})
//
// Subscription inputs mirror the Go side: a plain string declares a
// required input, a {name = value} table entry declares a default, and a
// "name..." string declares the catch-all.
//
// Scripts run with a restricted standard library (base, table, string,
// math). Use [WithAllLibraries] to open io and os for trusted scripts.
//
// Shut down the dispatcher before closing the Engine so in-flight
// deliveries finish against a live state.
package script
