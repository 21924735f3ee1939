package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tidwall/sjson"

	"github.com/dshills/baton"
)

// recorder appends delivered events to a file as NDJSON, one line per
// delivery. Callbacks run concurrently, so writes are serialized.
type recorder struct {
	mu sync.Mutex
	f  *os.File
}

func newRecorder(path string) (*recorder, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening record file: %w", err)
	}
	return &recorder{f: f}, nil
}

// subscribeAll attaches a recording callback to every registered event.
// Events registered after this call are not recorded.
func (r *recorder) subscribeAll(d *baton.Dispatcher) error {
	for _, event := range d.Events() {
		if err := d.Subscribe(event, r.callback(event), baton.ArgCatchAll("params")); err != nil {
			return fmt.Errorf("recording %q: %w", event, err)
		}
	}
	return nil
}

func (r *recorder) callback(event string) baton.Callback {
	return func(ctx context.Context, args baton.Args) error {
		params, _ := args["params"].(baton.Args)
		line, err := encodeDelivery(event, time.Now().UTC(), params)
		if err != nil {
			return err
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, err := r.f.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("recording %q: %w", event, err)
		}
		return nil
	}
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}

// encodeDelivery builds one NDJSON line for a delivered event.
func encodeDelivery(event string, at time.Time, params baton.Args) (string, error) {
	line, err := sjson.Set("", "event", event)
	if err != nil {
		return "", err
	}
	line, err = sjson.Set(line, "time", at.Format(time.RFC3339Nano))
	if err != nil {
		return "", err
	}
	line, err = sjson.SetRaw(line, "params", "{}")
	if err != nil {
		return "", err
	}
	for k, v := range params {
		line, err = sjson.Set(line, "params."+k, v)
		if err != nil {
			return "", fmt.Errorf("encoding param %q: %w", k, err)
		}
	}
	return line, nil
}
