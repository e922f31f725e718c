package chat

import (
	"context"
	"encoding/json"
	"strconv"

	"PPresence/middleware"
	midsec "PPresence/middleware/security"
	"PPresence/module/chat/model"
	"PPresence/tools/apiresp"
	"PPresence/tools/errs"

	"github.com/gin-gonic/gin"
)

// Broadcaster pushes one event to every connected user.
type Broadcaster interface {
	Broadcast(ctx context.Context, event string, payload any) int
}

type Handler struct {
	recon   *Reconciler
	msgs    *MessageService
	friends *FriendNotifier
	notify  Notifier
}

func NewHandler(recon *Reconciler, msgs *MessageService, friends *FriendNotifier, notify Notifier) *Handler {
	return &Handler{recon: recon, msgs: msgs, friends: friends, notify: notify}
}

func (h *Handler) Register(rt *middleware.Router) {
	rt.POST("/api/conversations/:id/read", h.MarkRead, middleware.RouteOpt{})
	rt.GET("/api/users/:user_id/unread", h.Unread, middleware.RouteOpt{})
	rt.POST("/api/messages", h.Send, middleware.RouteOpt{})

	internal := middleware.RouteOpt{Internal: true}
	rt.POST("/internal/friend/request", h.FriendRequest, internal)
	rt.POST("/internal/friend/accepted", h.FriendAccepted, internal)
	rt.POST("/internal/notify", h.Notify, internal)
	if _, ok := h.notify.(Broadcaster); ok {
		rt.POST("/internal/broadcast", h.Broadcast, internal)
	}
}

// actingAs rejects a body user id that differs from the authenticated one.
func actingAs(c *gin.Context, userID int64) error {
	if uid, ok := midsec.UserID(c); ok && uid != userID {
		return errs.ErrNoPermission.WrapMsg("user mismatch", "token_user", uid, "user_id", userID)
	}
	return nil
}

type markReadReq struct {
	ReaderID int64 `json:"reader_id" binding:"required"`
}

func (h *Handler) MarkRead(c *gin.Context) {
	convID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || convID <= 0 {
		apiresp.Fail(c, errs.ErrArgs.WrapMsg("invalid conversation id", "id", c.Param("id")))
		return
	}
	var req markReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresp.Fail(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	if err := actingAs(c, req.ReaderID); err != nil {
		apiresp.Fail(c, err)
		return
	}
	res, err := h.recon.MarkAllRead(c.Request.Context(), convID, req.ReaderID)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	apiresp.OK(c, res)
}

func (h *Handler) Unread(c *gin.Context) {
	uid, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || uid <= 0 {
		apiresp.Fail(c, errs.ErrArgs.WrapMsg("invalid user_id", "user_id", c.Param("user_id")))
		return
	}
	sum, err := h.recon.UnreadCounts(c.Request.Context(), uid)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	apiresp.OK(c, sum)
}

type sendReq struct {
	ConversationID int64  `json:"conversation_id" binding:"required"`
	SenderID       int64  `json:"sender_id" binding:"required"`
	Content        string `json:"content"`
}

func (h *Handler) Send(c *gin.Context) {
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresp.Fail(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	if err := actingAs(c, req.SenderID); err != nil {
		apiresp.Fail(c, err)
		return
	}
	res, err := h.msgs.Send(c.Request.Context(), req.ConversationID, req.SenderID, req.Content)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	apiresp.OK(c, res)
}

func (h *Handler) FriendRequest(c *gin.Context) {
	var ev model.FriendRequestEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		apiresp.Fail(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	if ev.ReceiverID <= 0 || ev.SenderID <= 0 {
		apiresp.Fail(c, errs.ErrArgs.WrapMsg("sender_id and receiver_id are required"))
		return
	}
	apiresp.OK(c, gin.H{"delivered": h.friends.RequestSent(c.Request.Context(), ev)})
}

type friendAcceptedReq struct {
	SenderID int64 `json:"sender_id"`
	model.FriendAcceptedEvent
}

func (h *Handler) FriendAccepted(c *gin.Context) {
	var req friendAcceptedReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresp.Fail(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	if req.SenderID <= 0 || req.UserID <= 0 {
		apiresp.Fail(c, errs.ErrArgs.WrapMsg("sender_id and user_id are required"))
		return
	}
	apiresp.OK(c, gin.H{"delivered": h.friends.RequestAccepted(c.Request.Context(), req.SenderID, req.FriendAcceptedEvent)})
}

type notifyReq struct {
	UserID  int64           `json:"user_id" binding:"required"`
	Event   string          `json:"event" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

// Notify lets CRUD collaborators push an arbitrary event.
func (h *Handler) Notify(c *gin.Context) {
	var req notifyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresp.Fail(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	apiresp.OK(c, gin.H{"delivered": h.notify.Dispatch(c.Request.Context(), req.UserID, req.Event, payload)})
}

type broadcastReq struct {
	Event   string          `json:"event" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

// Broadcast pushes a system-wide event, e.g. a maintenance notice.
func (h *Handler) Broadcast(c *gin.Context) {
	var req broadcastReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresp.Fail(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	n := h.notify.(Broadcaster).Broadcast(c.Request.Context(), req.Event, payload)
	apiresp.OK(c, gin.H{"connections": n})
}
