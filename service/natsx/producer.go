package natsx

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"PPresence/tools/errs"
)

const HeaderMsgID = "Nats-Msg-Id"

type Producer struct{ c *Client }

func NewProducer(c *Client) *Producer { return &Producer{c: c} }

// Publish 按 Biz 路由发送
func (p *Producer) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return errs.ErrRecordNotFound.WrapMsg("route not found", "biz", biz)
	}
	switch r.Mode {
	case Core:
		return p.c.sendCore(r.Subject, data, hdr)
	case JetStreamPush:
		return p.c.sendJS(ctx, r.Subject, data, hdr)
	default:
		return errs.ErrArgs.WrapMsg("unsupported mode", "mode", r.Mode)
	}
}

// PublishOnce sets Nats-Msg-Id so JetStream and IdemMiddleware can drop
// redeliveries. An empty msgID is generated.
func (p *Producer) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	h := make(map[string]string, len(hdr)+1)
	for k, v := range hdr {
		h[k] = v
	}
	if msgID == "" {
		msgID = genMsgID()
	}
	h[HeaderMsgID] = msgID
	return p.Publish(ctx, biz, data, h)
}

func genMsgID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
