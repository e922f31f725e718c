package dedupe

import (
	"context"
	"os"
	"testing"
	"time"

	"PPresence/tools/clock"

	"github.com/redis/go-redis/v9"
)

func TestKey(t *testing.T) {
	a := Key("new_message", 7, []byte(`{"id":1}`))
	b := Key("new_message", 7, []byte(`{"id":1}`))
	if a != b {
		t.Fatal("same tuple must give same key")
	}
	cases := []string{
		Key("new_message", 8, []byte(`{"id":1}`)),
		Key("new_message", 7, []byte(`{"id":2}`)),
		Key("friend_request", 7, []byte(`{"id":1}`)),
	}
	for _, k := range cases {
		if k == a {
			t.Fatalf("collision %q", k)
		}
	}
}

func TestMemorySeenOnce(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	m := NewMemory(fc)

	t.Run("first then duplicate", func(t *testing.T) {
		if seen, _ := m.SeenOnce(ctx, "k1", time.Minute); seen {
			t.Fatal("first call reported seen")
		}
		if seen, _ := m.SeenOnce(ctx, "k1", time.Minute); !seen {
			t.Fatal("second call within window not seen")
		}
	})

	t.Run("expires after ttl", func(t *testing.T) {
		fc.Advance(61 * time.Second)
		if seen, _ := m.SeenOnce(ctx, "k1", time.Minute); seen {
			t.Fatal("expired key reported seen")
		}
	})

	t.Run("forget releases the key", func(t *testing.T) {
		_, _ = m.SeenOnce(ctx, "k2", time.Minute)
		if err := m.Forget(ctx, "k2"); err != nil {
			t.Fatal(err)
		}
		if seen, _ := m.SeenOnce(ctx, "k2", time.Minute); seen {
			t.Fatal("forgotten key reported seen")
		}
	})

	t.Run("empty key never dedups", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			if seen, _ := m.SeenOnce(ctx, "", time.Minute); seen {
				t.Fatal("empty key seen")
			}
		}
	})
}

func TestMemoryPurge(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(time.Unix(1000, 0))
	m := NewMemory(fc)
	_, _ = m.SeenOnce(ctx, "a", time.Second)
	_, _ = m.SeenOnce(ctx, "b", time.Hour)
	fc.Advance(2 * time.Second)

	if n := m.Purge(); n != 1 {
		t.Fatalf("purged %d", n)
	}
	if m.Len() != 1 {
		t.Fatalf("len %d", m.Len())
	}
}

func TestRedisSeenOnce(t *testing.T) {
	addr := os.Getenv("PP_IT_REDIS")
	if addr == "" {
		t.Skip("PP_IT_REDIS not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	r := NewRedis(rdb, "pp-test:")
	key := Key("it", time.Now().UnixNano(), []byte("x"))
	if seen, err := r.SeenOnce(ctx, key, time.Second); err != nil || seen {
		t.Fatalf("first: seen=%v err=%v", seen, err)
	}
	if seen, err := r.SeenOnce(ctx, key, time.Second); err != nil || !seen {
		t.Fatalf("second: seen=%v err=%v", seen, err)
	}
}
