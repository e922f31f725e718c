package kafka

import (
	"context"
	"sync"

	"PPresence/tools/errs"
)

type MessageHandler func(ctx context.Context, topic string, key, value []byte) error

// Router maps topics to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]MessageHandler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]MessageHandler)}
}

func (r *Router) Register(topic string, h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = h
}

func (r *Router) Get(topic string) (MessageHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[topic]; ok {
		return h, nil
	}
	return nil, errs.ErrRecordNotFound.WrapMsg("no handler registered", "topic", topic)
}

func (r *Router) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
