package manifest

import (
	"context"
	"fmt"

	"github.com/dshills/baton"
	"github.com/dshills/baton/script"
)

// Apply validates m, registers its events on d, and subscribes its
// callbacks through eng. Events register first, then subscriptions in
// declaration order; the first failure stops the walk. eng may be nil
// when the manifest has no subscriptions.
func Apply(ctx context.Context, m *Manifest, d *baton.Dispatcher, eng *script.Engine) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if len(m.Subscriptions) > 0 && eng == nil {
		return fmt.Errorf("manifest has subscriptions but no script engine")
	}

	for _, ev := range m.Events {
		if err := d.Register(ev.Name, ev.Params...); err != nil {
			return fmt.Errorf("registering event %q: %w", ev.Name, err)
		}
	}

	for i := range m.Subscriptions {
		sub := &m.Subscriptions[i]
		cb, err := sub.callback(ctx, m, eng)
		if err != nil {
			return fmt.Errorf("subscriptions[%d] (%s): %w", i, sub.Event, err)
		}
		if err := d.Subscribe(sub.Event, cb, sub.inputs()...); err != nil {
			return fmt.Errorf("subscriptions[%d] (%s): %w", i, sub.Event, err)
		}
	}
	return nil
}

// callback loads the subscription's chunk through the engine.
func (s *Subscription) callback(ctx context.Context, m *Manifest, eng *script.Engine) (baton.Callback, error) {
	if s.Source != "" {
		return eng.CallbackString(ctx, s.Source)
	}
	return eng.CallbackFile(ctx, m.resolve(s.Script))
}
