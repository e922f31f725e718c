package natsx

import (
	"context"
	"strings"
	"time"

	"PPresence/service/dedupe"
)

func msgIDFromHeader(h map[string]string) string {
	for _, k := range []string{HeaderMsgID, "nats-msg-id", "X-Msg-Id", "x-msg-id"} {
		if v, ok := h[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// IdemMiddleware drops messages whose id was already handled within ttl.
// Messages without an id fall back to subject+body. Store errors let the
// message through.
func IdemMiddleware(store dedupe.Store, ttl time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			id := msgIDFromHeader(msg.Header)
			if id == "" {
				id = msg.Subject + "|" + strings.TrimSpace(string(msg.Data))
			}
			key := "nats:" + id
			if seen, err := store.SeenOnce(ctx, key, ttl); err == nil && seen {
				return nil
			}
			if err := next(ctx, msg); err != nil {
				// 处理失败的消息允许重投
				_ = store.Forget(ctx, key)
				return err
			}
			return nil
		}
	}
}
