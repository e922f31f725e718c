package handlers

import (
	"context"
	"encoding/json"
	"time"

	"PPresence/logger"
	"PPresence/service/chat"

	"go.uber.org/zap"
)

type HeartbeatHandler struct {
	presence PresenceReporter
}

func NewHeartbeatHandler(p PresenceReporter) chat.Handler { return &HeartbeatHandler{presence: p} }

func (h *HeartbeatHandler) Event() string { return chat.EventHeartbeat }

// Handle acks every heartbeat. Presence failures are logged, not returned.
func (h *HeartbeatHandler) Handle(ctx context.Context, s *chat.Session, _ json.RawMessage) error {
	if err := h.presence.Heartbeat(ctx, s.UserID, s.ConnID); err != nil {
		logger.Warn("[WS] heartbeat", zap.Int64("user_id", s.UserID), zap.String("conn_id", s.ConnID), zap.Error(err))
	}
	return s.Reply(chat.EventHeartbeatAck, map[string]int64{"server_time": time.Now().UnixMilli()})
}
