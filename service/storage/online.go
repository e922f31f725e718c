// Package storage keeps the cluster online index in redis: for each user,
// the set of nodes currently holding one of its connections.
package storage

import (
	"context"
	"strconv"
	"time"

	"PPresence/logger"
	"PPresence/tools/errs"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type OnlineConfig struct {
	NodeID        string
	TTL           time.Duration // 节点条目有效期，靠 Refresh 续期
	UseClusterTag bool          // Redis Cluster hash-tag 对齐
	Prefix        string
}

// ===== Lua 脚本 =====

// 加入/续期节点
// KEYS[1] = user index zset
// ARGV[1] = node id
// ARGV[2] = expireAt (ms)
// ARGV[3] = index ttl (ms)
// 返回：当前节点数
const luaJoin = `
local userZ = KEYS[1]
redis.call("ZADD", userZ, tonumber(ARGV[2]), ARGV[1])
redis.call("PEXPIRE", userZ, tonumber(ARGV[3]))
return redis.call("ZCARD", userZ)
`

// 节点离开（幂等）
// KEYS[1] = user index zset
// ARGV[1] = node id
// 返回：剩余节点数
const luaLeave = `
local userZ = KEYS[1]
redis.call("ZREM", userZ, ARGV[1])
local left = redis.call("ZCARD", userZ)
if left == 0 then
  redis.call("DEL", userZ)
end
return left
`

// 清理过期并返回有效节点
// KEYS[1] = user index zset
// ARGV[1] = now (ms)
const luaActiveNodes = `
local userZ = KEYS[1]
local now   = tonumber(ARGV[1])
redis.call("ZREMRANGEBYSCORE", userZ, "-inf", now)
local actives = redis.call("ZRANGEBYSCORE", userZ, "(" .. ARGV[1], "+inf")
if #actives == 0 then
  redis.call("DEL", userZ)
end
return actives
`

// OnlineIndex maps users to the nodes that hold them.
type OnlineIndex struct {
	conf OnlineConfig
	rdb  redis.UniversalClient
	now  func() time.Time
	log  *zap.Logger

	join   *redis.Script
	leave  *redis.Script
	active *redis.Script
}

func NewOnlineIndex(rdb redis.UniversalClient, conf OnlineConfig) (*OnlineIndex, error) {
	if conf.NodeID == "" {
		return nil, errs.ErrArgs.WrapMsg("online index needs node id")
	}
	if conf.TTL <= 0 {
		conf.TTL = 90 * time.Second
	}
	if conf.Prefix == "" {
		conf.Prefix = "pp"
	}
	return &OnlineIndex{
		conf:   conf,
		rdb:    rdb,
		now:    time.Now,
		log:    logger.Named("online"),
		join:   redis.NewScript(luaJoin),
		leave:  redis.NewScript(luaLeave),
		active: redis.NewScript(luaActiveNodes),
	}, nil
}

// ===== Key 构造 =====

// UseClusterTag=true: pp:on:{<user>}
// false:              pp:on:<user>
func (m *OnlineIndex) userKey(userID int64) string {
	u := strconv.FormatInt(userID, 10)
	if m.conf.UseClusterTag {
		return m.conf.Prefix + ":on:{" + u + "}"
	}
	return m.conf.Prefix + ":on:" + u
}

// ===== API =====

// Join records this node for the user.
func (m *OnlineIndex) Join(ctx context.Context, userID int64) error {
	exp := m.now().Add(m.conf.TTL).UnixMilli()
	err := m.join.Run(ctx, m.rdb, []string{m.userKey(userID)},
		m.conf.NodeID, exp, (2 * m.conf.TTL).Milliseconds()).Err()
	if err != nil {
		return errs.WrapMsg(err, "online join", "user_id", userID)
	}
	return nil
}

// Leave drops this node for the user and returns how many nodes remain.
func (m *OnlineIndex) Leave(ctx context.Context, userID int64) (int64, error) {
	left, err := m.leave.Run(ctx, m.rdb, []string{m.userKey(userID)}, m.conf.NodeID).Int64()
	if err != nil {
		return 0, errs.WrapMsg(err, "online leave", "user_id", userID)
	}
	return left, nil
}

// NodesOf returns the nodes with an unexpired entry for the user.
func (m *OnlineIndex) NodesOf(ctx context.Context, userID int64) ([]string, error) {
	nodes, err := m.active.Run(ctx, m.rdb, []string{m.userKey(userID)}, m.now().UnixMilli()).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, errs.WrapMsg(err, "online nodes", "user_id", userID)
	}
	return nodes, nil
}

// IsOnline reports whether any node holds the user.
func (m *OnlineIndex) IsOnline(ctx context.Context, userID int64) (bool, error) {
	nodes, err := m.NodesOf(ctx, userID)
	return len(nodes) > 0, err
}

// Refresh extends this node's entry for every user it holds. Run it well
// inside TTL.
func (m *OnlineIndex) Refresh(ctx context.Context, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	exp := float64(m.now().Add(m.conf.TTL).UnixMilli())
	idxTTL := 2 * m.conf.TTL
	_, err := m.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, uid := range userIDs {
			k := m.userKey(uid)
			p.ZAdd(ctx, k, redis.Z{Score: exp, Member: m.conf.NodeID})
			p.PExpire(ctx, k, idxTTL)
		}
		return nil
	})
	if err != nil {
		return errs.WrapMsg(err, "online refresh", "users", len(userIDs))
	}
	return nil
}

// RunRefresher refreshes users() every TTL/3 until ctx is done.
func (m *OnlineIndex) RunRefresher(ctx context.Context, users func() []int64) {
	t := time.NewTicker(m.conf.TTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := m.Refresh(ctx, users()); err != nil {
				m.log.Warn("refresh failed", zap.Error(err))
			}
		}
	}
}
