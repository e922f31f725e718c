package relay

import (
	"context"
	"sync"
)

// Bus is an in-process relay. Drivers created from one Bus behave like
// nodes sharing a broker; useful for a single binary and for tests.
type Bus struct {
	mu   sync.RWMutex
	subs []Receiver
}

func NewBus() *Bus { return &Bus{} }

// Driver returns a new node attached to the bus.
func (b *Bus) Driver() Driver { return &busDriver{b: b} }

type busDriver struct{ b *Bus }

func (d *busDriver) Name() string { return "local" }

func (d *busDriver) Publish(ctx context.Context, e Envelope) error {
	d.b.mu.RLock()
	subs := append([]Receiver(nil), d.b.subs...)
	d.b.mu.RUnlock()
	for _, fn := range subs {
		fn(ctx, e)
	}
	return nil
}

func (d *busDriver) Subscribe(_ context.Context, fn Receiver) error {
	d.b.mu.Lock()
	d.b.subs = append(d.b.subs, fn)
	d.b.mu.Unlock()
	return nil
}

func (d *busDriver) Close() error { return nil }
