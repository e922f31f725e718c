package dedupe

import (
	"context"
	"sync"
	"time"

	"PPresence/tools/clock"
)

// ----- 内存实现（单进程） -----
// 过期 key 由 Purge 统一清理，SeenOnce 本身不扫表
type Memory struct {
	mu    sync.Mutex
	m     map[string]time.Time // key -> expireAt
	clock clock.Clock
}

func NewMemory(c clock.Clock) *Memory {
	if c == nil {
		c = clock.Real
	}
	return &Memory{m: make(map[string]time.Time), clock: c}
}

func (mi *Memory) SeenOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, nil
	}
	now := mi.clock.Now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil // 已见过
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}

func (mi *Memory) Forget(_ context.Context, key string) error {
	mi.mu.Lock()
	delete(mi.m, key)
	mi.mu.Unlock()
	return nil
}

// Purge drops expired keys and returns how many were removed.
func (mi *Memory) Purge() int {
	now := mi.clock.Now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	n := 0
	for k, exp := range mi.m {
		if !exp.After(now) {
			delete(mi.m, k)
			n++
		}
	}
	return n
}

func (mi *Memory) Len() int {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	return len(mi.m)
}

// RunPurger purges every interval until ctx is done.
func (mi *Memory) RunPurger(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			mi.Purge()
		}
	}
}
