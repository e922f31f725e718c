package natsx

import "context"

type Message struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

type Handler func(ctx context.Context, msg Message) error

// Middleware wraps a Handler (idempotency, logging, ...).
type Middleware func(Handler) Handler

func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
