package dedupe

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares the dedup window across nodes. Keys expire on their own,
// so there is nothing to purge.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "pp:"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) SeenOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, nil
	}
	ok, err := r.rdb.SetNX(ctx, r.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	// SETNX 成功说明第一次出现
	return !ok, nil
}

func (r *Redis) Forget(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return r.rdb.Del(ctx, r.prefix+key).Err()
}
