package natsx

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"PPresence/service/dedupe"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, m Message) error {
				order = append(order, name)
				return next(ctx, m)
			}
		}
	}
	h := Chain(func(context.Context, Message) error {
		order = append(order, "h")
		return nil
	}, mw("a"), mw("b"))
	_ = h(context.Background(), Message{})
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "h" {
		t.Fatalf("order = %v", order)
	}
}

func TestIdemMiddleware(t *testing.T) {
	calls := 0
	h := IdemMiddleware(dedupe.NewMemory(nil), time.Minute)(func(context.Context, Message) error {
		calls++
		return nil
	})
	ctx := context.Background()
	withID := Message{Subject: "s", Data: []byte("x"), Header: map[string]string{HeaderMsgID: "m1"}}
	_ = h(ctx, withID)
	_ = h(ctx, withID)
	if calls != 1 {
		t.Fatalf("calls with id = %d", calls)
	}

	// 无 id 时按 subject+body
	_ = h(ctx, Message{Subject: "s", Data: []byte("y")})
	_ = h(ctx, Message{Subject: "s", Data: []byte("y")})
	_ = h(ctx, Message{Subject: "s", Data: []byte("z")})
	if calls != 3 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestIdemMiddlewareRedeliversFailed(t *testing.T) {
	calls := 0
	h := IdemMiddleware(dedupe.NewMemory(nil), time.Minute)(func(context.Context, Message) error {
		calls++
		if calls == 1 {
			return errors.New("handler failed")
		}
		return nil
	})
	ctx := context.Background()
	msg := Message{Subject: "s", Data: []byte("x"), Header: map[string]string{HeaderMsgID: "m2"}}
	if err := h(ctx, msg); err == nil {
		t.Fatal("want handler error")
	}
	_ = h(ctx, msg)
	_ = h(ctx, msg)
	if calls != 2 {
		t.Fatalf("calls = %d, want the failed message handled once more", calls)
	}
}

func TestMsgIDFromHeader(t *testing.T) {
	if id := msgIDFromHeader(map[string]string{"x-msg-id": "a"}); id != "a" {
		t.Fatalf("id = %q", id)
	}
	if id := msgIDFromHeader(nil); id != "" {
		t.Fatalf("id = %q", id)
	}
}

func TestNewClientNeedsServers(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error")
	}
}

// 需要本地 nats：PP_IT_NATS=nats://127.0.0.1:4222
func TestPublishSubscribe(t *testing.T) {
	url := os.Getenv("PP_IT_NATS")
	if url == "" {
		t.Skip("PP_IT_NATS not set")
	}
	m, err := NewManager(Config{Servers: []string{url}, Name: "ppresence-test"})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if err := m.RegisterRoute(Route{Biz: "t", Subject: "ppresence.test"}); err != nil {
		t.Fatal(err)
	}
	got := make(chan string, 1)
	if err := m.Subscribe("t", func(_ context.Context, msg Message) error {
		got <- string(msg.Data)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := m.PublishOnce(context.Background(), "t", []byte("hi"), nil, ""); err != nil {
		t.Fatal(err)
	}
	select {
	case v := <-got:
		if v != "hi" {
			t.Fatalf("got %q", v)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}
