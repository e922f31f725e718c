package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"PPresence/logger"
	"PPresence/service/dedupe"
	"PPresence/service/metrics"
	"PPresence/service/relay"
	"PPresence/tools/clock"

	"go.uber.org/zap"
)

const (
	defaultDedupWindow      = 2 * time.Minute
	defaultForceLogoutGrace = 500 * time.Millisecond
	defaultDedupPurgeEvery  = time.Minute
)

// Locator finds the nodes holding a user's connections.
type Locator interface {
	NodesOf(ctx context.Context, userID int64) ([]string, error)
}

type DispatcherConf struct {
	NodeID string
	// 读函数，配合热更新
	DedupWindow      func() time.Duration
	ForceLogoutGrace func() time.Duration
	DedupPurgeEvery  time.Duration
	Clock            clock.Clock
}

func (c *DispatcherConf) norm() {
	if c.Clock == nil {
		c.Clock = clock.Real
	}
	if c.DedupWindow == nil {
		c.DedupWindow = func() time.Duration { return defaultDedupWindow }
	}
	if c.ForceLogoutGrace == nil {
		c.ForceLogoutGrace = func() time.Duration { return defaultForceLogoutGrace }
	}
	if c.DedupPurgeEvery <= 0 {
		c.DedupPurgeEvery = defaultDedupPurgeEvery
	}
}

// Dispatcher pushes server events to the live handles of a user.
// A missing connection is reported as false, never as an error.
type Dispatcher struct {
	reg     Registry
	dedup   dedupe.Store
	conf    DispatcherConf
	pub     relay.Publisher
	loc     Locator
	metrics *metrics.Metrics
	log     *zap.Logger

	purgeMu    sync.Mutex
	purgeTimer clock.Timer
	purgeStop  bool
}

func NewDispatcher(reg Registry, dedup dedupe.Store, conf DispatcherConf) *Dispatcher {
	conf.norm()
	if dedup == nil {
		dedup = dedupe.NewMemory(conf.Clock)
	}
	return &Dispatcher{
		reg:   reg,
		dedup: dedup,
		conf:  conf,
		log:   logger.Named("dispatcher"),
	}
}

// SetRelay enables cross-node delivery. loc may be nil, then misses fan out to every node.
func (d *Dispatcher) SetRelay(pub relay.Publisher, loc Locator) {
	d.pub, d.loc = pub, loc
}

func (d *Dispatcher) SetMetrics(m *metrics.Metrics) { d.metrics = m }

// Dispatch delivers event to every live handle of userID. Identical
// (event, user, payload) tuples inside the dedup window are delivered once;
// an attempt that no handle accepted does not count.
func (d *Dispatcher) Dispatch(ctx context.Context, userID int64, event string, payload any) bool {
	data, err := MarshalPayload(payload)
	if err != nil {
		d.log.Warn("dispatch payload", zap.String("event", event), zap.Int64("user_id", userID), zap.Error(err))
		d.metrics.Dispatch(event, "failed")
		return false
	}

	handles := d.reg.Handles(userID)
	if len(handles) == 0 {
		if d.relayMiss(ctx, userID, event, data) {
			d.metrics.Dispatch(event, "relayed")
			return true
		}
		d.metrics.Dispatch(event, "absent")
		return false
	}

	key := dedupe.Key(event, userID, data)
	if d.duplicate(ctx, key, event, userID) {
		d.metrics.Dispatch(event, "duplicate")
		return false
	}

	if d.push(handles, event, data) == 0 {
		d.forget(ctx, key)
		d.metrics.Dispatch(event, "failed")
		return false
	}
	d.metrics.Dispatch(event, "delivered")
	return true
}

// ForceDisconnect pushes force_logout to the user, then after the grace
// delay unregisters and closes every handle it was pushed to. Every local
// connection also receives global_force_logout. Reports whether the push
// reached at least one local handle.
func (d *Dispatcher) ForceDisconnect(ctx context.Context, userID int64, reason string) bool {
	pushed := d.forceLocal(userID, reason)
	d.publish(ctx, relay.Envelope{Kind: relay.KindForceLogout, UserID: userID, Reason: reason})
	if pushed {
		d.metrics.ForceLogout("pushed")
	} else {
		d.metrics.ForceLogout("absent")
	}
	return pushed
}

// Broadcast sends event to every local connection and relays it to the
// other nodes. Returns the number of local handles written.
func (d *Dispatcher) Broadcast(ctx context.Context, event string, payload any) int {
	data, err := MarshalPayload(payload)
	if err != nil {
		d.log.Warn("broadcast payload", zap.String("event", event), zap.Error(err))
		return 0
	}
	n := d.push(d.reg.Snapshot(), event, data)
	d.publish(ctx, relay.Envelope{Kind: relay.KindBroadcast, Event: event, Data: data})
	return n
}

// Receive handles an envelope from another node. Relayed deliveries are
// not deduplicated again and never re-relayed.
func (d *Dispatcher) Receive(_ context.Context, e relay.Envelope) {
	if !e.For(d.conf.NodeID) {
		return
	}
	switch e.Kind {
	case relay.KindDispatch:
		if n := d.push(d.reg.Handles(e.UserID), e.Event, e.Data); n > 0 {
			d.metrics.Dispatch(e.Event, "delivered")
		}
	case relay.KindForceLogout:
		d.forceLocal(e.UserID, e.Reason)
	case relay.KindBroadcast:
		d.push(d.reg.Snapshot(), e.Event, e.Data)
	default:
		d.log.Warn("unknown relay kind", zap.String("kind", e.Kind), zap.String("origin", e.Origin))
	}
}

// StartPurge purges expired dedup keys every DedupPurgeEvery. It is a no-op
// for stores that expire keys on their own.
func (d *Dispatcher) StartPurge() (stop func()) {
	p, ok := d.dedup.(interface{ Purge() int })
	if !ok {
		return func() {}
	}
	var tick func()
	tick = func() {
		if n := p.Purge(); n > 0 {
			d.log.Debug("dedup purged", zap.Int("keys", n))
		}
		d.purgeMu.Lock()
		defer d.purgeMu.Unlock()
		if !d.purgeStop {
			d.purgeTimer = d.conf.Clock.AfterFunc(d.conf.DedupPurgeEvery, tick)
		}
	}
	d.purgeMu.Lock()
	d.purgeStop = false
	d.purgeTimer = d.conf.Clock.AfterFunc(d.conf.DedupPurgeEvery, tick)
	d.purgeMu.Unlock()

	return func() {
		d.purgeMu.Lock()
		defer d.purgeMu.Unlock()
		d.purgeStop = true
		if d.purgeTimer != nil {
			d.purgeTimer.Stop()
		}
	}
}

// ===== 内部 =====

func (d *Dispatcher) forceLocal(userID int64, reason string) bool {
	now := d.conf.Clock.Now()
	pushed := false

	handles := d.reg.Handles(userID)
	if len(handles) > 0 {
		frame, err := BuildFrame(EventForceLogout, ForceLogoutPayload{Reason: reason, Timestamp: now.UnixMilli()}, now)
		if err == nil {
			for _, h := range handles {
				if serr := h.Send(frame); serr == nil {
					pushed = true
				}
			}
		}
		// 给写协程留时间把 force_logout 刷出去，再关连接
		d.conf.Clock.AfterFunc(d.conf.ForceLogoutGrace(), func() {
			for _, h := range handles {
				d.reg.UnregisterConn(userID, h.ID())
				closeQuiet(h, CloseForceLogout, reason)
			}
			d.log.Info("force logout done", zap.Int64("user_id", userID), zap.Int("handles", len(handles)), zap.String("reason", reason))
		})
	}

	global := GlobalForceLogoutPayload{TargetUserID: userID, Reason: reason, Timestamp: now.UnixMilli()}
	if data, err := json.Marshal(global); err == nil {
		d.push(d.reg.Snapshot(), EventGlobalForceLogout, data)
	}
	return pushed
}

func (d *Dispatcher) push(handles []Handle, event string, data json.RawMessage) int {
	if len(handles) == 0 {
		return 0
	}
	frame, err := EncodeFrame(event, data, d.conf.Clock.Now())
	if err != nil {
		d.log.Warn("encode frame", zap.String("event", event), zap.Error(err))
		return 0
	}
	n := 0
	for _, h := range handles {
		if err := h.Send(frame); err != nil {
			d.log.Debug("send failed", zap.String("conn_id", h.ID()), zap.String("event", event), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

// duplicate fails open: a broken dedup store never blocks delivery.
func (d *Dispatcher) duplicate(ctx context.Context, key, event string, userID int64) bool {
	seen, err := d.dedup.SeenOnce(ctx, key, d.conf.DedupWindow())
	if err != nil {
		d.log.Warn("dedup store", zap.String("event", event), zap.Int64("user_id", userID), zap.Error(err))
		return false
	}
	return seen
}

// forget releases the key of an attempt nobody received.
func (d *Dispatcher) forget(ctx context.Context, key string) {
	if err := d.dedup.Forget(ctx, key); err != nil {
		d.log.Debug("dedup forget", zap.String("key", key), zap.Error(err))
	}
}

// relayMiss forwards a dispatch for a user with no local handle. It
// reports true only when the index names another node holding the user
// and the publish succeeded.
func (d *Dispatcher) relayMiss(ctx context.Context, userID int64, event string, data json.RawMessage) bool {
	if d.pub == nil {
		return false
	}
	env := relay.Envelope{Kind: relay.KindDispatch, UserID: userID, Event: event, Data: data}
	if d.loc == nil {
		// 没有在线索引：广播给所有节点，结果未知
		d.publish(ctx, env)
		return false
	}
	nodes, err := d.loc.NodesOf(ctx, userID)
	if err != nil {
		d.log.Warn("locate user", zap.Int64("user_id", userID), zap.Error(err))
		return false
	}
	targets := nodes[:0:0]
	for _, n := range nodes {
		if n != "" && n != d.conf.NodeID {
			targets = append(targets, n)
		}
	}
	if len(targets) == 0 {
		return false
	}
	key := dedupe.Key(event, userID, data)
	if d.duplicate(ctx, key, event, userID) {
		return false
	}
	env.Targets = targets
	if !d.publish(ctx, env) {
		d.forget(ctx, key)
		return false
	}
	return true
}

func (d *Dispatcher) publish(ctx context.Context, e relay.Envelope) bool {
	if d.pub == nil {
		return false
	}
	e.Origin = d.conf.NodeID
	e.Ts = d.conf.Clock.Now().UnixMilli()
	if err := d.pub.Publish(ctx, e); err != nil {
		d.log.Warn("relay publish", zap.String("kind", e.Kind), zap.Int64("user_id", e.UserID), zap.Error(err))
		return false
	}
	return true
}
