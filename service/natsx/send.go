package natsx

import (
	"context"

	"PPresence/tools/errs"

	"github.com/nats-io/nats.go"
)

func newMsg(subject string, data []byte, hdr map[string]string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	return msg
}

func (c *Client) sendCore(subject string, data []byte, hdr map[string]string) error {
	if err := c.nc.PublishMsg(newMsg(subject, data, hdr)); err != nil {
		return errs.WrapMsg(err, "nats publish", "subject", subject)
	}
	return nil
}

func (c *Client) sendJS(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
	if _, err := c.js.PublishMsg(newMsg(subject, data, hdr), nats.Context(ctx)); err != nil {
		return errs.WrapMsg(err, "jetstream publish", "subject", subject)
	}
	return nil
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
