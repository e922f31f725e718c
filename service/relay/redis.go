package relay

import (
	"context"

	"PPresence/logger"
	"PPresence/tools/errs"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis relays over a pub/sub channel.
type Redis struct {
	rdb     redis.UniversalClient
	channel string
	log     *zap.Logger
	sub     *redis.PubSub
}

func NewRedis(rdb redis.UniversalClient, channel string) *Redis {
	return &Redis{rdb: rdb, channel: channel, log: logger.Named("relay.redis")}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Publish(ctx context.Context, e Envelope) error {
	b, err := Encode(e)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, r.channel, b).Err(); err != nil {
		return errs.WrapMsg(err, "redis publish", "channel", r.channel)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, fn Receiver) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return errs.WrapMsg(err, "redis subscribe", "channel", r.channel)
	}
	r.sub = sub
	go func() {
		for msg := range sub.Channel() {
			e, err := Decode([]byte(msg.Payload))
			if err != nil {
				r.log.Warn("bad envelope", zap.Error(err))
				continue
			}
			fn(ctx, e)
		}
	}()
	return nil
}

func (r *Redis) Close() error {
	if r.sub != nil {
		return r.sub.Close()
	}
	return nil
}
