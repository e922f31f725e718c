package relay

import (
	"context"

	"PPresence/service/metrics"
)

type instrumented struct {
	Driver
	m *metrics.Metrics
}

// WithMetrics counts published and received envelopes.
func WithMetrics(d Driver, m *metrics.Metrics) Driver {
	if m == nil {
		return d
	}
	return &instrumented{Driver: d, m: m}
}

func (i *instrumented) Publish(ctx context.Context, e Envelope) error {
	err := i.Driver.Publish(ctx, e)
	res := "ok"
	if err != nil {
		res = "error"
	}
	i.m.Relay(i.Name(), "out", res)
	return err
}

func (i *instrumented) Subscribe(ctx context.Context, fn Receiver) error {
	return i.Driver.Subscribe(ctx, func(ctx context.Context, e Envelope) {
		i.m.Relay(i.Name(), "in", "ok")
		fn(ctx, e)
	})
}
