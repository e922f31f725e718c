package chat

import (
	"sync"
	"time"

	"PPresence/logger"
	"PPresence/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrClientClosed  = errs.New("client closed")
	ErrSendQueueFull = errs.New("send queue full")
)

// ---- 常量参数（建议值） ----
const (
	defaultPingInterval   = 25 * time.Second
	defaultWriteWait      = 10 * time.Second
	defaultFirstPingDelay = 5 * time.Second // 首个 ping 延后，避免刚连上即写超时
	defaultSendQueue      = 64
)

type ClientConf struct {
	SendQueue      int
	WriteWait      time.Duration
	PingInterval   time.Duration
	FirstPingDelay time.Duration
}

func (c *ClientConf) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = defaultSendQueue
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.FirstPingDelay <= 0 || c.FirstPingDelay > c.PingInterval {
		c.FirstPingDelay = defaultFirstPingDelay
		if c.FirstPingDelay > c.PingInterval {
			c.FirstPingDelay = c.PingInterval
		}
	}
}

// Client is one websocket connection. All writes go through a single
// writer goroutine fed by the send queue.
type Client struct {
	ConnID string
	UserID int64
	Remote string
	WS     *websocket.Conn

	conf ClientConf
	send chan []byte

	closeOnce   sync.Once
	closing     chan struct{}
	done        chan struct{}
	closeCode   int
	closeReason string
}

var _ Handle = (*Client)(nil)

func NewClient(connID string, userID int64, ws *websocket.Conn, conf ClientConf) *Client {
	conf.norm()
	c := &Client{
		ConnID:  connID,
		UserID:  userID,
		WS:      ws,
		conf:    conf,
		send:    make(chan []byte, conf.SendQueue),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	if ra := ws.RemoteAddr(); ra != nil {
		c.Remote = ra.String()
	}
	go c.writeLoop()
	return c
}

func (c *Client) ID() string { return c.ConnID }

// Send queues one text frame; it never blocks.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.closing:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close flushes queued frames, then sends a close frame and closes the socket.
func (c *Client) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeCode, c.closeReason = code, reason
		close(c.closing)
	})
	return nil
}

// Done is closed once the socket is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) writeLoop() {
	ticker := time.NewTicker(c.conf.PingInterval)
	first := time.NewTimer(c.conf.FirstPingDelay)
	code, reason := websocket.CloseNormalClosure, ""
	defer func() {
		ticker.Stop()
		first.Stop()

		// 统一由写协程发 Close 并关闭底层连接
		_ = c.WS.SetWriteDeadline(time.Now().Add(c.conf.WriteWait))
		_ = c.WS.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		_ = c.WS.Close()
		c.closeOnce.Do(func() { close(c.closing) })
		close(c.done)
		logger.Debug("[WS] closed", zap.String("conn_id", c.ConnID), zap.Int64("user_id", c.UserID), zap.Int("code", code))
	}()

	for {
		select {
		case payload := <-c.send:
			if err := c.write(payload); err != nil {
				logger.Info("[WS] write payload err", zap.String("conn_id", c.ConnID), zap.Int64("user_id", c.UserID), zap.Error(err))
				return
			}

		case <-c.closing:
			// 先把队列里剩下的写完（force_logout 依赖这里）
			for {
				select {
				case payload := <-c.send:
					if err := c.write(payload); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			code, reason = c.closeCode, c.closeReason
			if code == 0 {
				code = websocket.CloseNormalClosure
			}
			return

		case <-first.C: // 首次 ping
			if err := c.ping(); err != nil {
				logger.Info("[WS] first ping err", zap.String("conn_id", c.ConnID), zap.Error(err))
				return
			}

		case <-ticker.C: // 常规 ping
			if err := c.ping(); err != nil {
				logger.Info("[WS] ping err", zap.String("conn_id", c.ConnID), zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) write(payload []byte) error {
	_ = c.WS.SetWriteDeadline(time.Now().Add(c.conf.WriteWait))
	return c.WS.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) ping() error {
	return c.WS.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.conf.WriteWait))
}
