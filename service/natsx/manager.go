package natsx

import (
	"context"
	"time"

	"PPresence/tools/errs"
)

// Manager 统一门面：client + producer + consumer
type Manager struct {
	client   *Client
	producer *Producer
	sync     *SyncPublisher
	consumer *Consumer
}

func NewManager(cfg Config, middlewares ...Middleware) (*Manager, error) {
	c, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	p := NewProducer(c)
	return &Manager{
		client:   c,
		producer: p,
		sync:     &SyncPublisher{P: p, Retries: 2, Backoff: 100 * time.Millisecond},
		consumer: NewConsumer(c, middlewares...),
	}, nil
}

func (m *Manager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

func (m *Manager) RegisterRoute(r Route) error {
	if m == nil || m.client == nil {
		return errs.ErrInternalServer.WrapMsg("nats manager not initialized")
	}
	return m.client.RegisterRoute(r)
}

// PublishOnce publishes with a message id and retries transient failures.
func (m *Manager) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	if m == nil || m.sync == nil {
		return errs.ErrInternalServer.WrapMsg("nats manager not initialized")
	}
	return m.sync.PublishOnce(ctx, biz, data, hdr, msgID)
}

// Subscribe 订阅；同组内用 Queue 分摊，广播则 Queue 置空
func (m *Manager) Subscribe(biz string, h Handler) error {
	if m == nil || m.consumer == nil {
		return errs.ErrInternalServer.WrapMsg("nats manager not initialized")
	}
	return m.consumer.Subscribe(biz, h)
}
