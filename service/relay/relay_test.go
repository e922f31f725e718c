package relay

import (
	"context"
	"encoding/json"
	"testing"

	"PPresence/service/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEnvelopeFor(t *testing.T) {
	cases := []struct {
		name string
		e    Envelope
		node string
		want bool
	}{
		{"own origin", Envelope{Origin: "a"}, "a", false},
		{"broadcast", Envelope{Origin: "a"}, "b", true},
		{"targeted hit", Envelope{Origin: "a", Targets: []string{"c", "b"}}, "b", true},
		{"targeted miss", Envelope{Origin: "a", Targets: []string{"c"}}, "b", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.e.For(tc.node); got != tc.want {
				t.Fatalf("For(%q) = %v", tc.node, got)
			}
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	in := Envelope{Origin: "a", Kind: KindDispatch, UserID: 7, Event: "new_message", Data: json.RawMessage(`{"id":1}`), Ts: 10}
	b, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if out.UserID != 7 || out.Kind != KindDispatch || string(out.Data) != `{"id":1}` {
		t.Fatalf("out = %+v", out)
	}
	if _, err := Decode([]byte("nope")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestBusWithMetrics(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	bus := NewBus()
	a := WithMetrics(bus.Driver(), m)
	b := WithMetrics(bus.Driver(), m)

	var got []Envelope
	if err := b.Subscribe(ctx, func(_ context.Context, e Envelope) { got = append(got, e) }); err != nil {
		t.Fatal(err)
	}
	if err := a.Publish(ctx, Envelope{Origin: "a", Kind: KindBroadcast, Event: "x"}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Event != "x" {
		t.Fatalf("got = %+v", got)
	}
	if v := testutil.ToFloat64(m.RelayMessages.WithLabelValues("local", "out", "ok")); v != 1 {
		t.Fatalf("out = %v", v)
	}
	if v := testutil.ToFloat64(m.RelayMessages.WithLabelValues("local", "in", "ok")); v != 1 {
		t.Fatalf("in = %v", v)
	}
}
