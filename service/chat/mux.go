package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"PPresence/logger"
	"PPresence/tools/errs"

	"go.uber.org/zap"
)

// Handler processes one inbound event.
type Handler interface {
	Event() string
	Handle(ctx context.Context, s *Session, data json.RawMessage) error
}

// Session is the per-connection context handed to inbound handlers.
type Session struct {
	ConnID string
	UserID int64
	Remote string
	h      Handle
}

func NewSession(connID string, userID int64, h Handle) *Session {
	return &Session{ConnID: connID, UserID: userID, h: h}
}

// Reply sends a frame back to this connection only.
func (s *Session) Reply(event string, payload any) error {
	if s.h == nil {
		return ErrClientClosed
	}
	frame, err := BuildFrame(event, payload, time.Now())
	if err != nil {
		return err
	}
	return s.h.Send(frame)
}

// HandlerMux routes inbound frames by event name.
type HandlerMux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewHandlerMux() *HandlerMux {
	return &HandlerMux{handlers: make(map[string]Handler)}
}

func (m *HandlerMux) Register(h Handler) {
	m.mu.Lock()
	m.handlers[h.Event()] = h
	m.mu.Unlock()
}

func (m *HandlerMux) GetHandler(event string) Handler {
	m.mu.RLock()
	h, ok := m.handlers[event]
	m.mu.RUnlock()
	if !ok {
		logger.Debug("no handler", zap.String("event", event))
		return nil
	}
	return h
}

func (m *HandlerMux) Dispatch(ctx context.Context, s *Session, f *Frame) error {
	h := m.GetHandler(f.Event)
	if h == nil {
		return errs.ErrArgs.WrapMsg("no handler for event", "event", f.Event)
	}
	return h.Handle(ctx, s, f.Data)
}
