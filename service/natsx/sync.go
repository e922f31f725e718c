package natsx

import (
	"context"
	"time"
)

// SyncPublisher retries a failed publish with a fixed backoff.
type SyncPublisher struct {
	P       *Producer
	Retries int
	Backoff time.Duration
}

func (sp *SyncPublisher) PublishOnce(ctx context.Context, biz string, payload []byte, hdr map[string]string, msgID string) error {
	if msgID == "" {
		msgID = genMsgID()
	}
	var err error
	for i := 0; i <= sp.Retries; i++ {
		err = sp.P.PublishOnce(ctx, biz, payload, hdr, msgID)
		if err == nil {
			return nil
		}
		if i == sp.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sp.Backoff):
		}
	}
	return err
}
