package baton_test

import (
	"context"
	"fmt"

	"github.com/dshills/baton"
)

// Example_basicUsage registers an event, subscribes a callback, and triggers
// a delivery.
func Example_basicUsage() {
	d := baton.New()
	ctx := context.Background()
	done := make(chan struct{})

	if err := d.Register("greeting", "name"); err != nil {
		fmt.Printf("register failed: %v\n", err)
		return
	}
	err := d.Subscribe("greeting", func(ctx context.Context, args baton.Args) error {
		fmt.Printf("hello, %s\n", args["name"])
		close(done)
		return nil
	}, baton.Arg("name"))
	if err != nil {
		fmt.Printf("subscribe failed: %v\n", err)
		return
	}

	if err := d.Start(ctx); err != nil {
		fmt.Printf("start failed: %v\n", err)
		return
	}
	d.Trigger("greeting", baton.Args{"name": "world"})
	<-done

	if err := d.Stop(ctx); err != nil {
		fmt.Printf("stop failed: %v\n", err)
	}

	// Output: hello, world
}

// Example_defaults shows an input falling back to its declared default when
// the trigger does not supply it.
func Example_defaults() {
	d := baton.New()
	ctx := context.Background()
	done := make(chan struct{})

	_ = d.Register("order.placed", "id", "total", "source")
	_ = d.Subscribe("order.placed", func(ctx context.Context, args baton.Args) error {
		fmt.Printf("order %v (%v) via %v\n", args["id"], args["total"], args["source"])
		close(done)
		return nil
	}, baton.Arg("id"), baton.Arg("total"), baton.ArgDefault("source", "web"))

	_ = d.Start(ctx)
	d.Trigger("order.placed", baton.Args{"id": 42, "total": 99.5})
	<-done
	_ = d.Stop(ctx)

	// Output: order 42 (99.5) via web
}

// Example_serialOrder uses a single-worker pool so callbacks observe
// deliveries in trigger order.
func Example_serialOrder() {
	pool := baton.NewPoolExecutor(1, 16)
	d := baton.New(baton.WithExecutor(pool))
	ctx := context.Background()
	done := make(chan struct{}, 3)

	_ = d.Register("tick", "n")
	_ = d.Subscribe("tick", func(ctx context.Context, args baton.Args) error {
		fmt.Println(args["n"])
		done <- struct{}{}
		return nil
	}, baton.Arg("n"))

	_ = d.Start(ctx)
	for i := 1; i <= 3; i++ {
		d.Trigger("tick", baton.Args{"n": i})
	}
	for i := 0; i < 3; i++ {
		<-done
	}
	_ = d.Stop(ctx)
	_ = pool.Close(ctx)

	// Output:
	// 1
	// 2
	// 3
}

// Example_catchAll subscribes a callback that names no parameters and
// absorbs everything the trigger supplies.
func Example_catchAll() {
	d := baton.New()
	ctx := context.Background()
	done := make(chan struct{})

	_ = d.Register("metrics", "value")
	_ = d.Subscribe("metrics", func(ctx context.Context, args baton.Args) error {
		rest := args["rest"].(baton.Args)
		fmt.Printf("value=%v\n", rest["value"])
		close(done)
		return nil
	}, baton.ArgCatchAll("rest"))

	_ = d.Start(ctx)
	d.Trigger("metrics", baton.Args{"value": 7})
	<-done
	_ = d.Stop(ctx)

	// Output: value=7
}
