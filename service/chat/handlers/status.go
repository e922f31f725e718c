package handlers

import (
	"context"
	"encoding/json"

	"PPresence/module/presence/model"
	"PPresence/service/chat"
	"PPresence/tools/errs"
)

type statusUpdateReq struct {
	Status string `json:"status"`
	Force  bool   `json:"force"`
}

type StatusHandler struct {
	presence PresenceReporter
}

func NewStatusHandler(p PresenceReporter) chat.Handler { return &StatusHandler{presence: p} }

func (h *StatusHandler) Event() string { return chat.EventStatusUpdate }

func (h *StatusHandler) Handle(ctx context.Context, s *chat.Session, data json.RawMessage) error {
	var req statusUpdateReq
	if len(data) == 0 {
		return errs.ErrArgs.WrapMsg("status_update without data")
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return errs.ErrArgs.WrapMsg("bad status_update", "err", err)
	}
	st, err := model.ParseStatus(req.Status)
	if err != nil {
		return err
	}
	return h.presence.Report(ctx, s.UserID, s.ConnID, st, req.Force)
}
