package baton

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestDispatcher_RegisterDuplicate(t *testing.T) {
	d := New()
	if err := d.Register("my_event", "foo", "bar"); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	err := d.Register("my_event", "other")
	if !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}
	var dup *DuplicateEventError
	if !errors.As(err, &dup) || dup.Event != "my_event" {
		t.Errorf("expected *DuplicateEventError for my_event, got %#v", err)
	}

	// The original registration is untouched.
	h, err := d.On("my_event")
	if err != nil {
		t.Fatalf("On() failed: %v", err)
	}
	if got := h.Params(); !reflect.DeepEqual(got, []string{"foo", "bar"}) {
		t.Errorf("Params() = %v, want the first registration's params", got)
	}
}

func TestDispatcher_UnregisterSilent(t *testing.T) {
	d := New()
	if err := d.Register("e", "x"); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	d.Unregister("e")
	d.Unregister("e")
	d.Unregister("never_registered")

	if _, err := d.On("e"); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("On() after Unregister = %v, want ErrUnknownEvent", err)
	}
}

func TestDispatcher_SubscribeUnknownEvent(t *testing.T) {
	d := New()
	cb := func(ctx context.Context, args Args) error { return nil }

	if _, err := d.On("nope"); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("On() = %v, want ErrUnknownEvent", err)
	}
	err := d.Subscribe("nope", cb)
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("Subscribe() = %v, want ErrUnknownEvent", err)
	}
	var ue *UnknownEventError
	if !errors.As(err, &ue) || ue.Event != "nope" {
		t.Errorf("expected *UnknownEventError for nope, got %#v", err)
	}
}

func TestDispatcher_TriggerUnknownIsSilentlyConsumed(t *testing.T) {
	d := New()
	ctx := context.Background()

	// Triggering an event that was never registered is not an error, before,
	// during, or after a run.
	d.Trigger("unregistered", Args{"anything": true})
	if got := d.Pending(); got != 1 {
		t.Fatalf("Pending() = %d, want 1", got)
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return d.Pending() == 0 }, "delivery was not consumed")

	d.Trigger("unregistered", nil)
	waitFor(t, time.Second, func() bool { return d.Pending() == 0 }, "second delivery was not consumed")

	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	d.Trigger("unregistered", nil)
	if got := d.Pending(); got != 1 {
		t.Errorf("Pending() after stopped trigger = %d, want 1", got)
	}

	if got := d.Stats().Dropped; got != 2 {
		t.Errorf("Stats().Dropped = %d, want 2", got)
	}
}

func TestDispatcher_DeliveryBindsDeclaredDefaults(t *testing.T) {
	d := New()
	ctx := context.Background()

	if err := d.Register("my_event", "foo", "bar", "baz"); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	var mu sync.Mutex
	var calls []Args
	err := d.Subscribe("my_event", func(ctx context.Context, args Args) error {
		mu.Lock()
		calls = append(calls, args)
		mu.Unlock()
		return nil
	}, Arg("foo"), Arg("bar"), ArgDefault("baz", "zab"))
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	d.Trigger("my_event", Args{"foo": 1, "bar": 2})
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, "callback did not run")
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("callback ran %d times, want exactly once", len(calls))
	}
	want := Args{"foo": 1, "bar": 2, "baz": "zab"}
	if !reflect.DeepEqual(calls[0], want) {
		t.Errorf("callback args = %v, want %v", calls[0], want)
	}
}

func TestDispatcher_FIFOOrder(t *testing.T) {
	// A single-worker pool serializes callback execution, so the callback
	// observes deliveries exactly in trigger order.
	pool := NewPoolExecutor(1, 64)
	defer pool.Close(context.Background())
	d := New(WithExecutor(pool))
	ctx := context.Background()

	if err := d.Register("seq", "n"); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	var mu sync.Mutex
	var got []int
	_ = d.Subscribe("seq", func(ctx context.Context, args Args) error {
		mu.Lock()
		got = append(got, args["n"].(int))
		mu.Unlock()
		return nil
	}, Arg("n"))

	const n = 50
	for i := 0; i < n; i++ {
		d.Trigger("seq", Args{"n": i})
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}, "not all deliveries were observed")
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("delivery order %v is not trigger order", got)
		}
	}
}

func TestDispatcher_StartStopIdempotent(t *testing.T) {
	d := New()
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("second Start() failed: %v", err)
	}
	if d.State() != StateRunning {
		t.Fatalf("State() = %v, want running", d.State())
	}

	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}
	if d.State() != StateStopped {
		t.Fatalf("State() = %v, want stopped", d.State())
	}
}

func TestDispatcher_RestartDeliversInSecondCycle(t *testing.T) {
	d := New()
	ctx := context.Background()

	if err := d.Register("e", "n"); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	var calls atomic.Int32
	_ = d.Subscribe("e", func(ctx context.Context, args Args) error {
		calls.Add(1)
		return nil
	}, Arg("n"))

	for cycle := 1; cycle <= 2; cycle++ {
		if err := d.Start(ctx); err != nil {
			t.Fatalf("Start() cycle %d failed: %v", cycle, err)
		}
		d.Trigger("e", Args{"n": cycle})
		waitFor(t, time.Second, func() bool { return calls.Load() == int32(cycle) }, "delivery was not processed")
		if err := d.Stop(ctx); err != nil {
			t.Fatalf("Stop() cycle %d failed: %v", cycle, err)
		}
	}
}

func TestDispatcher_ClearOnlyWhileStopped(t *testing.T) {
	d := New()
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	err := d.Clear()
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Clear() while running = %v, want ErrInvalidState", err)
	}
	var ise *InvalidStateError
	if !errors.As(err, &ise) || ise.State != StateRunning {
		t.Errorf("expected *InvalidStateError in running state, got %#v", err)
	}

	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	d.Trigger("whatever", nil)
	if err := d.Clear(); err != nil {
		t.Fatalf("Clear() while stopped failed: %v", err)
	}
	if got := d.Pending(); got != 0 {
		t.Errorf("Pending() after Clear = %d, want 0", got)
	}
}

func TestDispatcher_StopDrainsOutstanding(t *testing.T) {
	d := New()
	ctx := context.Background()

	if err := d.Register("slow"); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	started := make(chan struct{})
	release := make(chan struct{})
	_ = d.Subscribe("slow", func(ctx context.Context, args Args) error {
		started <- struct{}{}
		<-release
		return nil
	})

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	d.Trigger("slow", nil)
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- d.Stop(ctx) }()
	select {
	case <-stopped:
		t.Fatal("Stop() returned while a callback was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop() failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return within timeout")
	}

	h, err := d.On("slow")
	if err != nil {
		t.Fatalf("On() failed: %v", err)
	}
	if got := h.Outstanding(); got != 0 {
		t.Errorf("Outstanding() after Stop = %d, want 0", got)
	}
	if err := d.Clear(); err != nil {
		t.Errorf("Clear() after Stop failed: %v", err)
	}
}

func TestDispatcher_TriggerWhileStoppedDeliveredAfterStart(t *testing.T) {
	d := New()
	ctx := context.Background()

	if err := d.Register("e", "n"); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	var calls atomic.Int32
	_ = d.Subscribe("e", func(ctx context.Context, args Args) error {
		calls.Add(1)
		return nil
	}, Arg("n"))

	d.Trigger("e", Args{"n": 1})
	d.Trigger("e", Args{"n": 2})
	if got := d.Pending(); got != 2 {
		t.Fatalf("Pending() = %d, want 2", got)
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return calls.Load() == 2 }, "queued triggers were not delivered after Start")
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}

func TestDispatcher_RegisterWhileRunning(t *testing.T) {
	d := New()
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer d.Stop(ctx)

	if err := d.Register("live", "x"); err != nil {
		t.Fatalf("Register() on a running dispatcher failed: %v", err)
	}
	done := make(chan Args, 1)
	err := d.Subscribe("live", func(ctx context.Context, args Args) error {
		done <- args
		return nil
	}, Arg("x"))
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	d.Trigger("live", Args{"x": 99})
	select {
	case args := <-done:
		if args["x"] != 99 {
			t.Errorf("args = %v, want x=99", args)
		}
	case <-time.After(time.Second):
		t.Fatal("event registered while running was not delivered")
	}
}

func TestDispatcher_UnregisterWhileRunning(t *testing.T) {
	d := New()
	ctx := context.Background()

	if err := d.Register("e"); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	var calls atomic.Int32
	_ = d.Subscribe("e", func(ctx context.Context, args Args) error {
		calls.Add(1)
		return nil
	})

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	d.Unregister("e")
	d.Trigger("e", nil)
	waitFor(t, time.Second, func() bool { return d.Stats().Dropped == 1 }, "delivery was not dropped")
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	if got := calls.Load(); got != 0 {
		t.Errorf("callback ran %d times after Unregister, want 0", got)
	}
}

func TestDispatcher_Events(t *testing.T) {
	d := New()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := d.Register(name); err != nil {
			t.Fatalf("Register(%s) failed: %v", name, err)
		}
	}
	if got, want := d.Events(), []string{"alpha", "mid", "zeta"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Events() = %v, want %v", got, want)
	}
}

func TestDispatcher_ConcurrentTriggers(t *testing.T) {
	d := New()
	ctx := context.Background()

	if err := d.Register("e", "n"); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	var calls atomic.Int64
	_ = d.Subscribe("e", func(ctx context.Context, args Args) error {
		calls.Add(1)
		return nil
	}, Arg("n"))

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	const producers = 8
	const perProducer = 200
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				d.Trigger("e", Args{"n": fmt.Sprintf("%d-%d", p, i)})
			}
		}(p)
	}
	wg.Wait()

	waitFor(t, 5*time.Second, func() bool { return calls.Load() == producers*perProducer }, "not all deliveries were processed")
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	stats := d.Stats()
	if stats.Triggered != producers*perProducer {
		t.Errorf("Stats().Triggered = %d, want %d", stats.Triggered, producers*perProducer)
	}
	if stats.Delivered != producers*perProducer {
		t.Errorf("Stats().Delivered = %d, want %d", stats.Delivered, producers*perProducer)
	}
}

func TestDispatcher_StopWithCancelledContext(t *testing.T) {
	d := New()

	if err := d.Register("slow"); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	started := make(chan struct{})
	release := make(chan struct{})
	_ = d.Subscribe("slow", func(ctx context.Context, args Args) error {
		close(started)
		<-release
		return nil
	})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	d.Trigger("slow", nil)
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Stop(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Stop() = %v, want context.Canceled", err)
	}
	if d.State() != StateStopping {
		t.Fatalf("State() = %v, want stopping while the drain continues", d.State())
	}

	// The finisher completes once the callback unblocks, and a new Start
	// waits for it.
	close(release)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() after interrupted Stop failed: %v", err)
	}
	if d.State() != StateRunning {
		t.Errorf("State() = %v, want running", d.State())
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("final Stop() failed: %v", err)
	}
}

func TestDispatcher_StatsReset(t *testing.T) {
	d := New()
	ctx := context.Background()

	if err := d.Register("e", "n"); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	_ = d.Subscribe("e", func(ctx context.Context, args Args) error { return nil }, Arg("n"))
	_ = d.Subscribe("e", func(ctx context.Context, args Args) error { return errors.New("bad") }, Arg("n"))

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	d.Trigger("e", Args{"n": 1})
	waitFor(t, time.Second, func() bool {
		s := d.Stats()
		return s.Succeeded == 1 && s.Failed == 1
	}, "callbacks did not complete")
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	stats := d.Stats()
	if stats.Triggered != 1 || stats.Delivered != 1 {
		t.Errorf("Triggered/Delivered = %d/%d, want 1/1", stats.Triggered, stats.Delivered)
	}
	if stats.Succeeded != 1 || stats.Failed != 1 {
		t.Errorf("Succeeded/Failed = %d/%d, want 1/1", stats.Succeeded, stats.Failed)
	}

	d.ResetStats()
	if got := d.Stats(); got.Triggered != 0 || got.Succeeded != 0 || got.Failed != 0 {
		t.Errorf("Stats() after reset = %+v, want zeros", got)
	}
}
