package activity

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"PPresence/module/presence/model"
	"PPresence/tools/clock"
	"PPresence/tools/errs"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SharedStore is storage visible to every tab of the same user. A missing
// key reads as ok=false.
type SharedStore interface {
	Get(ctx context.Context, key string) (val string, ok bool, err error)
	Set(ctx context.Context, key, val string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type memItem struct {
	val string
	exp time.Time
}

// MemoryStore shares state between trackers of one process.
type MemoryStore struct {
	mu  sync.Mutex
	m   map[string]memItem
	clk clock.Clock
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.Real
	}
	return &MemoryStore{m: map[string]memItem{}, clk: clk}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.m[key]
	if !ok {
		return "", false, nil
	}
	if !it.exp.IsZero() && !s.clk.Now().Before(it.exp) {
		delete(s.m, key)
		return "", false, nil
	}
	return it.val, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, val string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := memItem{val: val}
	if ttl > 0 {
		it.exp = s.clk.Now().Add(ttl)
	}
	s.m[key] = it
	return nil
}

func (s *MemoryStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

// RedisStore shares tab state between processes, e.g. several desktop
// clients of one user on the same machine.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "pp:tab:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, s.prefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.WrapMsg(err, "tab state get", "key", key)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.prefix+key, val, ttl).Err(); err != nil {
		return errs.WrapMsg(err, "tab state set", "key", key)
	}
	return nil
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return errs.WrapMsg(err, "tab state del", "key", key)
	}
	return nil
}

// TabState is one tab's view of the flags shared by all tabs of a user.
// Updates are read-modify-write without coordination; two tabs racing
// can lose one visibility update until that tab's next refresh.
type TabState struct {
	store    SharedStore
	userID   int64
	tabID    string
	staleTTL time.Duration
	clk      clock.Clock
}

func NewTabState(store SharedStore, userID int64, staleTTL time.Duration, clk clock.Clock) *TabState {
	if clk == nil {
		clk = clock.Real
	}
	if staleTTL <= 0 {
		staleTTL = 2 * time.Minute
	}
	return &TabState{store: store, userID: userID, tabID: uuid.NewString(), staleTTL: staleTTL, clk: clk}
}

func (t *TabState) TabID() string { return t.tabID }

func (t *TabState) key(name string) string {
	return strconv.FormatInt(t.userID, 10) + ":" + name
}

// visible tabs: tab id -> unix millis of the last refresh
func (t *TabState) loadTabs(ctx context.Context) (map[string]int64, error) {
	raw, ok, err := t.store.Get(ctx, t.key("tabs"))
	if err != nil || !ok {
		return map[string]int64{}, err
	}
	tabs := map[string]int64{}
	if err := json.Unmarshal([]byte(raw), &tabs); err != nil {
		return map[string]int64{}, nil
	}
	cut := t.clk.Now().Add(-t.staleTTL).UnixMilli()
	for id, seen := range tabs {
		if seen < cut {
			delete(tabs, id)
		}
	}
	return tabs, nil
}

func (t *TabState) saveTabs(ctx context.Context, tabs map[string]int64) error {
	if len(tabs) == 0 {
		return t.store.Del(ctx, t.key("tabs"))
	}
	b, _ := json.Marshal(tabs)
	return t.store.Set(ctx, t.key("tabs"), string(b), t.staleTTL)
}

// SetVisible records (or clears) this tab as visible.
func (t *TabState) SetVisible(ctx context.Context, visible bool) error {
	tabs, err := t.loadTabs(ctx)
	if err != nil {
		return err
	}
	if visible {
		tabs[t.tabID] = t.clk.Now().UnixMilli()
	} else {
		delete(tabs, t.tabID)
	}
	return t.saveTabs(ctx, tabs)
}

// SiblingVisible reports whether another tab of the user is visible.
func (t *TabState) SiblingVisible(ctx context.Context) (bool, error) {
	tabs, err := t.loadTabs(ctx)
	if err != nil {
		return false, err
	}
	for id := range tabs {
		if id != t.tabID {
			return true, nil
		}
	}
	return false, nil
}

func (t *TabState) SetStatus(ctx context.Context, s model.Status) error {
	return t.store.Set(ctx, t.key("status"), string(s), 0)
}

// Status is the last status any tab recorded; "" when none did.
func (t *TabState) Status(ctx context.Context) (model.Status, error) {
	v, _, err := t.store.Get(ctx, t.key("status"))
	return model.Status(v), err
}

// MarkLeft records that a tab told the server it was leaving.
func (t *TabState) MarkLeft(ctx context.Context, ttl time.Duration) error {
	return t.store.Set(ctx, t.key("left"), strconv.FormatInt(t.clk.Now().UnixMilli(), 10), ttl)
}

// LeftAt returns when the left flag was written, if it still exists.
func (t *TabState) LeftAt(ctx context.Context) (time.Time, bool, error) {
	v, ok, err := t.store.Get(ctx, t.key("left"))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (t *TabState) ClearLeft(ctx context.Context) error {
	return t.store.Del(ctx, t.key("left"))
}
