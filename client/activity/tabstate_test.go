package activity

import (
	"context"
	"os"
	"testing"
	"time"

	"PPresence/module/presence/model"
	"PPresence/tools/clock"

	"github.com/redis/go-redis/v9"
)

func TestMemoryStoreExpiry(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	s := NewMemoryStore(clk)
	ctx := context.Background()
	_ = s.Set(ctx, "k", "v", time.Second)
	_ = s.Set(ctx, "forever", "v", 0)

	if v, ok, _ := s.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("get = %q %v", v, ok)
	}
	clk.Advance(time.Second)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("key should have expired")
	}
	if _, ok, _ := s.Get(ctx, "forever"); !ok {
		t.Fatal("ttl 0 never expires")
	}
}

func TestTabStateSiblings(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	store := NewMemoryStore(clk)
	ctx := context.Background()
	a := NewTabState(store, 7, time.Minute, clk)
	b := NewTabState(store, 7, time.Minute, clk)
	other := NewTabState(store, 8, time.Minute, clk)

	if a.TabID() == b.TabID() {
		t.Fatal("tab ids must differ")
	}
	_ = a.SetVisible(ctx, true)
	_ = other.SetVisible(ctx, true)
	if v, _ := a.SiblingVisible(ctx); v {
		t.Fatal("a alone is not its own sibling")
	}
	_ = b.SetVisible(ctx, true)
	if v, _ := a.SiblingVisible(ctx); !v {
		t.Fatal("b should be visible to a")
	}
	_ = b.SetVisible(ctx, false)
	if v, _ := a.SiblingVisible(ctx); v {
		t.Fatal("b hid")
	}

	// a tab that stops refreshing ages out
	_ = b.SetVisible(ctx, true)
	clk.Advance(50 * time.Second)
	_ = a.SetVisible(ctx, true)
	clk.Advance(20 * time.Second)
	if v, _ := a.SiblingVisible(ctx); v {
		t.Fatal("stale sibling should be pruned")
	}
}

func TestTabStateFlags(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	ctx := context.Background()
	ts := NewTabState(NewMemoryStore(clk), 7, 0, clk)

	if s, _ := ts.Status(ctx); s != "" {
		t.Fatalf("status = %q", s)
	}
	_ = ts.SetStatus(ctx, model.StatusOffline)
	if s, _ := ts.Status(ctx); s != model.StatusOffline {
		t.Fatalf("status = %q", s)
	}

	_ = ts.MarkLeft(ctx, 10*time.Second)
	at, ok, _ := ts.LeftAt(ctx)
	if !ok || !at.Equal(time.Unix(1000, 0)) {
		t.Fatalf("left at = %v %v", at, ok)
	}
	_ = ts.ClearLeft(ctx)
	if _, ok, _ := ts.LeftAt(ctx); ok {
		t.Fatal("left flag not cleared")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("PP_IT_REDIS")
	if addr == "" {
		t.Skip("PP_IT_REDIS not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	s := NewRedisStore(rdb, "pp-test:tab:")
	_ = s.Del(ctx, "7:status")
	if _, ok, err := s.Get(ctx, "7:status"); err != nil || ok {
		t.Fatalf("get missing = %v %v", ok, err)
	}
	if err := s.Set(ctx, "7:status", "online", time.Minute); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := s.Get(ctx, "7:status"); !ok || v != "online" {
		t.Fatalf("get = %q %v", v, ok)
	}
	_ = s.Del(ctx, "7:status")
}
