package chat

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"PPresence/logger"
	"PPresence/middleware"
	"PPresence/middleware/security"
	"PPresence/tools/apiresp"
	"PPresence/tools/errs"
	"PPresence/tools/ids"
	jwtlib "PPresence/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// LockChecker reports whether a user is barred from connecting.
type LockChecker interface {
	IsLocked(ctx context.Context, userID int64) (locked bool, reason string, err error)
}

// Toucher refreshes a connection's heartbeat on pong.
type Toucher interface {
	Touch(connID string) bool
}

type ServerConf struct {
	PingInterval      time.Duration
	WriteWait         time.Duration
	IdleTTL           time.Duration // 读超时，收到 pong/消息即续期
	SendQueue         int
	MaxMessageSize    int64
	AllowedOrigins    []string
	RequireToken      bool
	HeartbeatInterval time.Duration // 写进 connected 帧，告诉客户端心跳周期
}

func (c *ServerConf) norm() {
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 2 * c.PingInterval
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 << 10
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
}

// Server accepts websocket connections and registers them in the Registry.
type Server struct {
	conf     ServerConf
	reg      Registry
	mux      *HandlerMux
	locks    LockChecker
	auth     *security.Options
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewServer(conf ServerConf, reg Registry, mux *HandlerMux) *Server {
	conf.norm()
	if mux == nil {
		mux = NewHandlerMux()
	}
	s := &Server{
		conf: conf,
		reg:  reg,
		mux:  mux,
		log:  logger.Named("ws"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.OriginAllowed(conf.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
	return s
}

func (s *Server) SetLockChecker(l LockChecker) { s.locks = l }

// SetAuth enables token checks on the handshake. The token subject must match user_id.
func (s *Server) SetAuth(opts *security.Options) { s.auth = opts }

func (s *Server) Mux() *HandlerMux { return s.mux }

func (s *Server) Registry() Registry { return s.reg }

// HandleWS serves GET /ws?user_id=..[&token=..].
func (s *Server) HandleWS(c *gin.Context) {
	userID, err := s.authenticate(c)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		s.log.Info("upgrade failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	ctx := c.Request.Context()
	if s.rejectLocked(ctx, ws, userID) {
		return
	}

	connID := ids.ConnID()
	cl := NewClient(connID, userID, ws, ClientConf{
		SendQueue:    s.conf.SendQueue,
		WriteWait:    s.conf.WriteWait,
		PingInterval: s.conf.PingInterval,
	})
	s.reg.Register(userID, cl)
	s.log.Info("connected", zap.String("conn_id", connID), zap.Int64("user_id", userID), zap.String("remote", cl.Remote))

	sess := NewSession(connID, userID, cl)
	sess.Remote = cl.Remote
	_ = sess.Reply(EventConnected, ConnectedPayload{
		ConnID:              connID,
		UserID:              userID,
		HeartbeatIntervalMs: s.conf.HeartbeatInterval.Milliseconds(),
		ServerTime:          time.Now().UnixMilli(),
	})

	s.readLoop(ctx, ws, sess)

	// ---- 退出阶段：先摘掉登记再关闭，写协程收尾 ----
	s.reg.UnregisterConn(userID, connID)
	_ = cl.Close(websocket.CloseNormalClosure, "")
	<-cl.Done()
}

func (s *Server) authenticate(c *gin.Context) (int64, error) {
	raw := c.Query("user_id")
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, errs.ErrArgs.WrapMsg("invalid user_id", "user_id", raw)
	}
	if s.auth == nil {
		return userID, nil
	}
	token := security.ExtractToken(c, s.auth)
	if token == "" && !s.conf.RequireToken {
		return userID, nil
	}
	claims, err := jwtlib.Verify(s.auth.JWT, token)
	if err != nil {
		return 0, err
	}
	sub, err := claims.UserID()
	if err != nil {
		return 0, err
	}
	if sub != userID {
		return 0, errs.ErrNoPermission.WrapMsg("token subject mismatch", "user_id", userID, "sub", sub)
	}
	return userID, nil
}

// rejectLocked answers a locked user with force_logout and close 4003. A
// failing lock lookup lets the connection through.
func (s *Server) rejectLocked(ctx context.Context, ws *websocket.Conn, userID int64) bool {
	if s.locks == nil {
		return false
	}
	locked, reason, err := s.locks.IsLocked(ctx, userID)
	if err != nil {
		s.log.Warn("lock check failed", zap.Int64("user_id", userID), zap.Error(err))
		return false
	}
	if !locked {
		return false
	}
	now := time.Now()
	deadline := now.Add(s.conf.WriteWait)
	if frame, ferr := BuildFrame(EventForceLogout, ForceLogoutPayload{Reason: reason, Timestamp: now.UnixMilli()}, now); ferr == nil {
		_ = ws.SetWriteDeadline(deadline)
		_ = ws.WriteMessage(websocket.TextMessage, frame)
	}
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(CloseLocked, "locked"), deadline)
	_ = ws.Close()
	s.log.Info("locked user rejected", zap.Int64("user_id", userID), zap.String("reason", reason))
	return true
}

// ---- 读循环：只读，不写；出错即退出 ----
func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, sess *Session) {
	ws.SetReadLimit(s.conf.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(s.conf.IdleTTL))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(s.conf.IdleTTL))
		if t, ok := s.reg.(Toucher); ok {
			t.Touch(sess.ConnID)
		}
		return nil
	})

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				s.log.Info("peer closed", zap.String("conn_id", sess.ConnID), zap.Int64("user_id", sess.UserID))
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				s.log.Info("read timeout", zap.String("conn_id", sess.ConnID), zap.Int64("user_id", sess.UserID))
			} else {
				s.log.Debug("read err", zap.String("conn_id", sess.ConnID), zap.Error(rerr))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.conf.IdleTTL))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		f, perr := ParseFrameJSON(data)
		if perr != nil {
			// 只打印简短样本
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			s.log.Info("bad frame", zap.String("conn_id", sess.ConnID), zap.ByteString("sample", sample), zap.Error(perr))
			_ = sess.Reply(EventError, ErrorPayload{Code: errs.ArgsError, Msg: "bad frame"})
			continue
		}

		if err := s.mux.Dispatch(ctx, sess, f); err != nil {
			s.log.Debug("handle frame", zap.String("conn_id", sess.ConnID), zap.String("event", f.Event), zap.Error(err))
			code := errs.ServerInternalError
			if ce, ok := errs.AsCode(err); ok {
				code = ce.Code
			}
			_ = sess.Reply(EventError, ErrorPayload{Code: code, Msg: f.Event})
		}
	}
}
