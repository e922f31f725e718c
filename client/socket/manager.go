// Package socket keeps one reconnecting websocket to the presence server
// and fans inbound events out to registered callbacks.
package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"PPresence/logger"
	wschat "PPresence/service/chat"
	"PPresence/tools/clock"
	"PPresence/tools/errs"
	"PPresence/tools/safe"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Callback receives the data field of an inbound frame.
type Callback func(data json.RawMessage)

type Config struct {
	URL   string // ws://host:port/ws
	Token string

	BaseDelay        time.Duration
	MaxDelay         time.Duration
	MaxAttempts      int
	EmitRetryDelay   time.Duration
	HandshakeTimeout time.Duration
	WriteWait        time.Duration

	Dialer *websocket.Dialer
	Clock  clock.Clock
}

func (c *Config) norm() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.EmitRetryDelay <= 0 {
		c.EmitRetryDelay = time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 5 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{HandshakeTimeout: c.HandshakeTimeout, Proxy: http.ProxyFromEnvironment}
	}
	if c.Clock == nil {
		c.Clock = clock.Real
	}
}

// Backoff is the delay before reconnect attempt n (1-based).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	d := time.Duration(attempt) * base
	if d > max {
		return max
	}
	return d
}

type listener struct {
	id uint64
	cb Callback
}

type Manager struct {
	conf Config
	log  *zap.Logger

	mu       sync.Mutex
	state    State
	userID   int64
	conn     *websocket.Conn
	gen      uint64 // bumped by Connect/Disconnect; stale goroutines compare against it
	attempts int
	retry    clock.Timer
	handlers map[string][]listener
	nextID   uint64

	writeMu sync.Mutex
}

func NewManager(conf Config) *Manager {
	conf.norm()
	return &Manager{conf: conf, log: logger.Named("socket"), handlers: map[string][]listener{}}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens a connection for userID. It is a no-op while already
// connected (or connecting) as the same user.
func (m *Manager) Connect(userID int64) {
	m.mu.Lock()
	if m.userID == userID && m.state != Disconnected {
		m.mu.Unlock()
		return
	}
	old := m.resetLocked()
	m.userID = userID
	m.state = Connecting
	g := m.gen
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	safe.Go("socket-dial", func() { m.dial(g) })
}

// Disconnect closes the connection and cancels pending reconnects.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	old := m.resetLocked()
	m.state = Disconnected
	m.mu.Unlock()
	if old != nil {
		m.writeMu.Lock()
		_ = old.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(m.conf.WriteWait))
		m.writeMu.Unlock()
		_ = old.Close()
	}
}

// On registers cb for event and returns an id for Off. Registration works
// while disconnected and kicks off a connection attempt.
func (m *Manager) On(event string, cb Callback) uint64 {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.handlers[event] = append(m.handlers[event], listener{id: id, cb: cb})
	m.mu.Unlock()
	m.ensureConnected()
	return id
}

// Off removes one callback, or every callback of event when id is 0.
func (m *Manager) Off(event string, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == 0 {
		delete(m.handlers, event)
		return
	}
	ls := m.handlers[event]
	for i, l := range ls {
		if l.id == id {
			m.handlers[event] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(m.handlers[event]) == 0 {
		delete(m.handlers, event)
	}
}

// Emit sends immediately when connected. Otherwise it starts a connection
// and retries once after EmitRetryDelay; a second miss drops the event.
// The result only reports the immediate send.
func (m *Manager) Emit(event string, data any) bool {
	raw, err := wschat.BuildFrame(event, data, m.conf.Clock.Now())
	if err != nil {
		m.log.Warn("emit: encode", zap.String("event", event), zap.Error(err))
		return false
	}
	if m.send(raw) == nil {
		return true
	}
	m.ensureConnected()
	m.conf.Clock.AfterFunc(m.conf.EmitRetryDelay, func() {
		if err := m.send(raw); err != nil {
			m.log.Debug("emit dropped", zap.String("event", event), zap.Error(err))
		}
	})
	return false
}

func (m *Manager) ensureConnected() {
	m.mu.Lock()
	uid, st := m.userID, m.state
	m.mu.Unlock()
	if st == Disconnected && uid != 0 {
		m.Connect(uid)
	}
}

func (m *Manager) send(raw []byte) error {
	m.mu.Lock()
	conn, st := m.conn, m.state
	m.mu.Unlock()
	if st != Connected || conn == nil {
		return errs.New("not connected")
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(m.conf.WriteWait))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// resetLocked invalidates the current generation and returns the socket to close.
func (m *Manager) resetLocked() *websocket.Conn {
	m.gen++
	m.attempts = 0
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	old := m.conn
	m.conn = nil
	return old
}

func (m *Manager) dialURL(userID int64) (string, error) {
	u, err := url.Parse(m.conf.URL)
	if err != nil {
		return "", errs.WrapMsg(err, "parse socket url", "url", m.conf.URL)
	}
	q := u.Query()
	q.Set("user_id", strconv.FormatInt(userID, 10))
	if m.conf.Token != "" {
		q.Set("token", m.conf.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) dial(g uint64) {
	m.mu.Lock()
	uid := m.userID
	m.mu.Unlock()

	target, err := m.dialURL(uid)
	var conn *websocket.Conn
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.conf.HandshakeTimeout)
		conn, _, err = m.conf.Dialer.DialContext(ctx, target, nil)
		cancel()
	}

	m.mu.Lock()
	if g != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.log.Info("connect failed", zap.Int64("user_id", uid), zap.Int("attempt", m.attempts), zap.Error(err))
		m.scheduleLocked(g)
		m.mu.Unlock()
		return
	}
	m.conn = conn
	m.state = Connected
	m.attempts = 0
	m.mu.Unlock()

	m.log.Debug("connected", zap.Int64("user_id", uid))
	safe.Go("socket-read", func() { m.readLoop(g, conn) })
}

func (m *Manager) readLoop(g uint64, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.lost(g, err)
			return
		}
		f, err := wschat.ParseFrameJSON(raw)
		if err != nil {
			m.log.Debug("bad frame", zap.ByteString("raw", raw), zap.Error(err))
			continue
		}
		m.fire(f.Event, f.Data)
	}
}

func (m *Manager) fire(event string, data json.RawMessage) {
	m.mu.Lock()
	ls := append([]listener(nil), m.handlers[event]...)
	m.mu.Unlock()
	for _, l := range ls {
		l.cb(data)
	}
}

func (m *Manager) lost(g uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g != m.gen {
		return
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.log.Info("connection lost", zap.Int64("user_id", m.userID), zap.Error(err))
	if websocket.IsCloseError(err, wschat.CloseForceLogout, wschat.CloseLocked) {
		// forced logout or locked: the server does not want us back
		m.state = Disconnected
		return
	}
	m.scheduleLocked(g)
}

func (m *Manager) scheduleLocked(g uint64) {
	if m.attempts >= m.conf.MaxAttempts {
		m.state = Disconnected
		m.log.Error("reconnect gave up", zap.Int64("user_id", m.userID), zap.Int("attempts", m.attempts))
		return
	}
	m.attempts++
	m.state = Connecting
	delay := Backoff(m.attempts, m.conf.BaseDelay, m.conf.MaxDelay)
	m.retry = m.conf.Clock.AfterFunc(delay, func() {
		m.mu.Lock()
		current := g == m.gen
		m.mu.Unlock()
		if current {
			m.dial(g)
		}
	})
}
