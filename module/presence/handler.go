package presence

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"PPresence/logger"
	"PPresence/middleware"
	"PPresence/module/presence/model"
	"PPresence/tools/apiresp"
	"PPresence/tools/decode"
	"PPresence/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	maxBeaconBody  = 4 << 10
	beaconTimeout  = 2 * time.Second
	maxBatchLookup = 500
)

type Handler struct {
	svc   *Service
	locks *LockService
}

func NewHandler(svc *Service, locks *LockService) *Handler {
	return &Handler{svc: svc, locks: locks}
}

func (h *Handler) Register(rt *middleware.Router) {
	rt.POST("/api/users/status-update", h.StatusUpdate, middleware.RouteOpt{})
	rt.POST("/api/users/status-update-beacon", h.Beacon, middleware.RouteOpt{})
	rt.POST("/api/users/heartbeat", h.Heartbeat, middleware.RouteOpt{})
	rt.GET("/api/users/check-lock-status/:user_id", h.CheckLockStatus, middleware.RouteOpt{})
	rt.GET("/api/users/:user_id/presence", h.Get, middleware.RouteOpt{})
	rt.POST("/api/users/presence/batch", h.Batch, middleware.RouteOpt{})

	admin := middleware.RouteOpt{IsAuth: true, Scope: "admin"}
	rt.POST("/admin/users/:user_id/lock", h.Lock, admin)
	rt.POST("/admin/users/:user_id/unlock", h.Unlock, admin)
	rt.POST("/admin/users/:user_id/force-logout", h.ForceLogout, admin)
}

type statusReq struct {
	UserID    int64  `json:"user_id"`
	Status    string `json:"status"`
	ConnID    string `json:"conn_id"`
	Force     bool   `json:"force"`
	Timestamp int64  `json:"timestamp"`
}

func (r *statusReq) validate() (model.Status, error) {
	if r.UserID <= 0 {
		return "", errs.ErrArgs.WrapMsg("user_id is required")
	}
	return model.ParseStatus(r.Status)
}

func (h *Handler) StatusUpdate(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		apiresp.Fail(c, errs.ErrArgs.WrapMsg("read body"))
		return
	}
	req, err := decode.DecodeJSON[statusReq](body)
	if err != nil {
		apiresp.Fail(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	status, err := req.validate()
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	if err := h.svc.Report(c.Request.Context(), req.UserID, req.ConnID, status, req.Force); err != nil {
		apiresp.Fail(c, err)
		return
	}
	apiresp.OK(c, gin.H{"user_id": req.UserID, "status": status})
}

// Beacon accepts the page-teardown report. The body may be JSON, a
// text/plain JSON string or a urlencoded form; the answer is always 204.
func (h *Handler) Beacon(c *gin.Context) {
	defer c.Status(http.StatusNoContent)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBeaconBody))
	if err != nil {
		return
	}
	req, err := parseBeacon(c.ContentType(), body)
	if err != nil {
		logger.Debug("beacon: bad body", zap.Error(err))
		return
	}
	status, err := req.validate()
	if err != nil {
		logger.Debug("beacon: invalid", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
	defer cancel()
	if err := h.svc.Report(ctx, req.UserID, req.ConnID, status, req.Force); err != nil {
		logger.Warn("beacon: report failed", zap.Int64("user_id", req.UserID), zap.Error(err))
	}
}

func parseBeacon(contentType string, body []byte) (*statusReq, error) {
	if contentType == "application/x-www-form-urlencoded" {
		return parseBeaconForm(body)
	}
	req, err := decode.DecodeJSON[statusReq](body)
	if err == nil {
		return req, nil
	}
	if strings.Contains(string(body), "=") {
		return parseBeaconForm(body)
	}
	return nil, err
}

func parseBeaconForm(body []byte) (*statusReq, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, errs.ErrArgs.WrapMsg("parse form", "err", err)
	}
	return decode.DecodeMap[statusReq](decode.FormToMap(form))
}

type heartbeatReq struct {
	UserID int64  `json:"user_id" binding:"required"`
	ConnID string `json:"conn_id"`
}

func (h *Handler) Heartbeat(c *gin.Context) {
	var req heartbeatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresp.Fail(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	if err := h.svc.Heartbeat(c.Request.Context(), req.UserID, req.ConnID); err != nil {
		apiresp.Fail(c, err)
		return
	}
	apiresp.OK(c, gin.H{"server_time": time.Now().UnixMilli()})
}

func (h *Handler) CheckLockStatus(c *gin.Context) {
	uid, err := userIDParam(c)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	res, err := h.locks.CheckLockStatus(c.Request.Context(), uid)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	apiresp.OK(c, res)
}

func (h *Handler) Get(c *gin.Context) {
	uid, err := userIDParam(c)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	p, err := h.svc.Get(c.Request.Context(), uid)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	apiresp.OK(c, p)
}

type batchReq struct {
	UserIDs []int64 `json:"user_ids" binding:"required"`
}

func (h *Handler) Batch(c *gin.Context) {
	var req batchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresp.Fail(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	if len(req.UserIDs) > maxBatchLookup {
		apiresp.Fail(c, errs.ErrArgs.WrapMsg("too many user ids", "max", maxBatchLookup))
		return
	}
	out, err := h.svc.Batch(c.Request.Context(), req.UserIDs)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	apiresp.OK(c, gin.H{"users": out})
}

type lockReq struct {
	Kind    string `json:"kind"`
	Reason  string `json:"reason"`
	Minutes int    `json:"minutes"`
}

func (h *Handler) Lock(c *gin.Context) {
	uid, err := userIDParam(c)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	var req lockReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresp.Fail(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	kind, err := model.ParseLockKind(req.Kind)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	if kind == model.LockKindLock && req.Minutes <= 0 {
		apiresp.Fail(c, errs.ErrArgs.WrapMsg("minutes must be positive for a lock"))
		return
	}
	res, err := h.locks.Lock(c.Request.Context(), uid, kind, req.Reason, time.Duration(req.Minutes)*time.Minute)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	apiresp.OK(c, res)
}

func (h *Handler) Unlock(c *gin.Context) {
	uid, err := userIDParam(c)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	n, err := h.locks.Unlock(c.Request.Context(), uid)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	apiresp.OK(c, gin.H{"unlocked": n})
}

type forceLogoutReq struct {
	Reason string `json:"reason"`
}

func (h *Handler) ForceLogout(c *gin.Context) {
	uid, err := userIDParam(c)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	var req forceLogoutReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apiresp.Fail(c, errs.ErrArgs.WrapMsg(err.Error()))
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "forced by administrator"
	}
	pushed, err := h.locks.ForceLogout(c.Request.Context(), uid, req.Reason)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	apiresp.OK(c, gin.H{"disconnected": pushed})
}

func userIDParam(c *gin.Context) (int64, error) {
	uid, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || uid <= 0 {
		return 0, errs.ErrArgs.WrapMsg("invalid user_id", "user_id", c.Param("user_id"))
	}
	return uid, nil
}
