package natsx

import (
	"context"

	"PPresence/tools/errs"

	"github.com/nats-io/nats.go"
)

type Consumer struct {
	c   *Client
	mws []Middleware
}

func NewConsumer(c *Client, mws ...Middleware) *Consumer {
	return &Consumer{c: c, mws: mws}
}

// Subscribe 订阅 Core / JetStream Push（JS 自动 ACK/NAK）
func (cs *Consumer) Subscribe(biz string, h Handler) error {
	r, ok := cs.c.route(biz)
	if !ok {
		return errs.ErrRecordNotFound.WrapMsg("route not found", "biz", biz)
	}
	h = Chain(h, cs.mws...)

	var (
		sub *nats.Subscription
		err error
	)
	switch r.Mode {
	case Core:
		cb := func(m *nats.Msg) {
			_ = h(context.Background(), toMessage(m))
		}
		if r.Queue == "" {
			sub, err = cs.c.nc.Subscribe(r.Subject, cb)
		} else {
			sub, err = cs.c.nc.QueueSubscribe(r.Subject, r.Queue, cb)
		}
		if err == nil {
			_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
		}

	case JetStreamPush:
		cs.c.mu.RLock()
		js := cs.c.js
		cs.c.mu.RUnlock()
		if js == nil {
			return errs.ErrInternalServer.WrapMsg("jetstream not initialized")
		}
		opts := []nats.SubOpt{
			nats.ManualAck(),
			nats.AckWait(r.AckWait),
			nats.MaxAckPending(r.MaxAckPending),
		}
		if r.Durable != "" {
			opts = append(opts, nats.Durable(r.Durable))
		}
		cb := func(m *nats.Msg) {
			if err := h(context.Background(), toMessage(m)); err == nil {
				_ = m.Ack()
			} else {
				_ = m.Nak()
			}
		}
		if r.Queue == "" {
			sub, err = js.Subscribe(r.Subject, cb, opts...)
		} else {
			sub, err = js.QueueSubscribe(r.Subject, r.Queue, cb, opts...)
		}

	default:
		return errs.ErrArgs.WrapMsg("mode not supported", "mode", r.Mode)
	}
	if err != nil {
		return errs.WrapMsg(err, "nats subscribe", "subject", r.Subject)
	}
	cs.c.mu.Lock()
	cs.c.subs[biz] = sub
	cs.c.mu.Unlock()
	return nil
}

func toMessage(m *nats.Msg) Message {
	return Message{
		Subject: m.Subject,
		Data:    append([]byte(nil), m.Data...),
		Header:  headerToMap(m.Header),
	}
}
