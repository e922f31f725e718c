package chat

import (
	"sync"
	"time"

	"PPresence/logger"
	"PPresence/service/metrics"
	"PPresence/tools/clock"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ===== 配置 =====

type ManagerConf struct {
	IdleTTL     time.Duration // 心跳超过这么久没刷新的连接会被清理；<=0 不清理
	SweepEvery  time.Duration // 清理周期（如 30s）
	MaxPerUser  int           // 每用户最大连接数（<=0 不限制），超限淘汰最老连接
	Clock       clock.Clock   // 可注入时钟（单测用）；nil => clock.Real
	DisableLoop bool          // 不启动清理协程，由调用方驱动 SweepOnce
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = clock.Real
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 30 * time.Second
	}
}

// ===== 数据结构 =====

type entry struct {
	h         Handle
	userID    int64
	createdAt time.Time
	heartbeat time.Time // 最近心跳时间
	active    bool      // 客户端最近一次上报的可见状态
}

// ConnManager is the in-process Registry: conn id -> handle, user -> set of handles.
type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*entry           // 主索引：connID -> entry
	byUser map[int64]map[string]*entry // 辅助索引：userID -> (connID -> entry)

	conf     ManagerConf
	hooks    Hooks
	metrics  *metrics.Metrics
	log      *zap.Logger
	stopOnce sync.Once
	stopCh   chan struct{}
}

var _ Registry = (*ConnManager)(nil)

// ===== 构造/关闭 =====

func NewConnManager(conf ManagerConf) *ConnManager {
	conf.norm()
	m := &ConnManager{
		byConn: make(map[string]*entry),
		byUser: make(map[int64]map[string]*entry),
		conf:   conf,
		log:    logger.Named("registry"),
		stopCh: make(chan struct{}),
	}
	if conf.IdleTTL > 0 && !conf.DisableLoop {
		go m.sweeper()
	}
	return m
}

// SetHooks must be called before the first Register.
func (m *ConnManager) SetHooks(h Hooks) { m.hooks = h }

func (m *ConnManager) SetMetrics(mt *metrics.Metrics) { m.metrics = mt }

// Close stops the sweeper and closes every handle. Hooks are not fired.
func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	all := make([]Handle, 0, len(m.byConn))
	for _, e := range m.byConn {
		all = append(all, e.h)
	}
	m.byConn = map[string]*entry{}
	m.byUser = map[int64]map[string]*entry{}
	m.mu.Unlock()

	for _, h := range all {
		closeQuiet(h, websocket.CloseGoingAway, "server shutdown")
	}
	m.metrics.SetConnections(0, 0)
}

// ===== Registry =====

func (m *ConnManager) Register(userID int64, h Handle) bool {
	if h == nil || h.ID() == "" {
		return false
	}
	now := m.conf.Clock.Now()
	var (
		toClose    []Handle
		offlineOld int64
		first      bool
		reRegister bool
	)

	m.mu.Lock()
	if old, ok := m.byConn[h.ID()]; ok {
		// 同一个 connID 重复登记：替换
		if old.userID != userID {
			if m.removeLocked(old) {
				offlineOld = old.userID
			}
		} else {
			reRegister = true
			delete(m.byConn, h.ID())
			delete(m.byUser[userID], h.ID())
		}
		if old.h != h {
			toClose = append(toClose, old.h)
		}
	}

	if m.conf.MaxPerUser > 0 {
		if ev := m.ensureRoomForUserLocked(userID); ev != nil {
			toClose = append(toClose, ev)
		}
	}

	set := m.byUser[userID]
	if set == nil {
		set = make(map[string]*entry)
		m.byUser[userID] = set
	}
	first = len(set) == 0 && !reRegister
	e := &entry{h: h, userID: userID, createdAt: now, heartbeat: now, active: true}
	set[h.ID()] = e
	m.byConn[h.ID()] = e
	conns, users := len(m.byConn), len(m.byUser)
	m.mu.Unlock()

	for _, x := range toClose {
		closeQuiet(x, CloseReplaced, "replaced")
	}
	m.metrics.SetConnections(conns, users)
	if offlineOld != 0 && m.hooks.OnOffline != nil {
		m.hooks.OnOffline(offlineOld)
	}
	if first && m.hooks.OnOnline != nil {
		m.hooks.OnOnline(userID)
	}
	return first
}

func (m *ConnManager) Unregister(userID int64) int {
	m.mu.Lock()
	set := m.byUser[userID]
	removed := make([]Handle, 0, len(set))
	for id, e := range set {
		delete(m.byConn, id)
		removed = append(removed, e.h)
	}
	delete(m.byUser, userID)
	conns, users := len(m.byConn), len(m.byUser)
	m.mu.Unlock()

	if len(removed) == 0 {
		return 0
	}
	for _, h := range removed {
		closeQuiet(h, websocket.CloseNormalClosure, "unregister")
	}
	m.metrics.SetConnections(conns, users)
	if m.hooks.OnOffline != nil {
		m.hooks.OnOffline(userID)
	}
	return len(removed)
}

func (m *ConnManager) UnregisterConn(userID int64, connID string) bool {
	m.mu.Lock()
	e, ok := m.byConn[connID]
	if !ok || e.userID != userID {
		m.mu.Unlock()
		return false
	}
	last := m.removeLocked(e)
	conns, users := len(m.byConn), len(m.byUser)
	m.mu.Unlock()

	m.metrics.SetConnections(conns, users)
	if last && m.hooks.OnOffline != nil {
		m.hooks.OnOffline(userID)
	}
	return true
}

func (m *ConnManager) Handles(userID int64) []Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Handle, 0, len(set))
	for _, e := range set {
		out = append(out, e.h)
	}
	return out
}

func (m *ConnManager) Snapshot() []Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Handle, 0, len(m.byConn))
	for _, e := range m.byConn {
		out = append(out, e.h)
	}
	return out
}

// ===== 心跳 / 活跃状态 =====

// Touch refreshes the heartbeat of one connection.
func (m *ConnManager) Touch(connID string) bool {
	now := m.conf.Clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byConn[connID]
	if !ok {
		return false
	}
	e.heartbeat = now
	return true
}

// SetActive records the visibility the client last reported for a connection.
func (m *ConnManager) SetActive(connID string, active bool) bool {
	now := m.conf.Clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byConn[connID]
	if !ok {
		return false
	}
	e.active = active
	e.heartbeat = now
	return true
}

// ActiveCount counts the user's active connections other than exceptConnID.
func (m *ConnManager) ActiveCount(userID int64, exceptConnID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for id, e := range m.byUser[userID] {
		if id != exceptConnID && e.active {
			n++
		}
	}
	return n
}

func (m *ConnManager) Info(connID string) (ConnInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byConn[connID]
	if !ok {
		return ConnInfo{}, false
	}
	return ConnInfo{ConnID: connID, UserID: e.userID, CreatedAt: e.createdAt, Heartbeat: e.heartbeat, Active: e.active}, true
}

func (m *ConnManager) Count() (conns, users int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn), len(m.byUser)
}

// Users lists the users with at least one handle.
func (m *ConnManager) Users() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.byUser))
	for uid := range m.byUser {
		out = append(out, uid)
	}
	return out
}

// ===== 清理协程 =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.SweepOnce(m.conf.Clock.Now())
		}
	}
}

// SweepOnce evicts handles whose heartbeat is older than IdleTTL.
func (m *ConnManager) SweepOnce(now time.Time) int {
	if m.conf.IdleTTL <= 0 {
		return 0
	}
	var (
		expired []Handle
		offline []int64
	)

	m.mu.Lock()
	for _, e := range m.byConn {
		if now.Sub(e.heartbeat) > m.conf.IdleTTL {
			// 收集后统一关闭，避免持锁期间关闭 socket
			expired = append(expired, e.h)
			if m.removeLocked(e) {
				offline = append(offline, e.userID)
			}
		}
	}
	conns, users := len(m.byConn), len(m.byUser)
	m.mu.Unlock()

	for _, h := range expired {
		closeQuiet(h, websocket.CloseGoingAway, "idle")
	}
	if len(expired) > 0 {
		m.log.Info("idle connections evicted", zap.Int("count", len(expired)))
		m.metrics.SetConnections(conns, users)
	}
	if m.hooks.OnOffline != nil {
		for _, uid := range offline {
			m.hooks.OnOffline(uid)
		}
	}
	return len(expired)
}

// ===== 内部 =====

// removeLocked drops e from both indexes and reports whether the user's set became empty.
func (m *ConnManager) removeLocked(e *entry) bool {
	id := e.h.ID()
	delete(m.byConn, id)
	set := m.byUser[e.userID]
	if set == nil {
		return false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m.byUser, e.userID)
		return true
	}
	return false
}

// 需要在持锁状态下调用；返回被淘汰的连接，由调用方解锁后关闭
func (m *ConnManager) ensureRoomForUserLocked(userID int64) Handle {
	set := m.byUser[userID]
	if len(set) < m.conf.MaxPerUser {
		return nil
	}
	// 选择最老的一条淘汰（createdAt 更早）
	var oldest *entry
	for _, e := range set {
		if oldest == nil || e.createdAt.Before(oldest.createdAt) {
			oldest = e
		}
	}
	if oldest == nil {
		return nil
	}
	delete(set, oldest.h.ID())
	delete(m.byConn, oldest.h.ID())
	return oldest.h
}

func closeQuiet(h Handle, code int, reason string) {
	if h != nil {
		_ = h.Close(code, reason)
	}
}
