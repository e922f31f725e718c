// Package activity decides, from inside a client, whether the server
// should consider the user online: heartbeats while visible, a deferred
// offline after the tab is hidden and a teardown beacon on exit.
package activity

import (
	"context"
	"sync"
	"time"

	"PPresence/logger"
	"PPresence/module/presence/model"
	"PPresence/tools/clock"
	"PPresence/tools/errs"
	"PPresence/tools/safe"

	"go.uber.org/zap"
)

type Config struct {
	UserID int64
	ConnID string // socket connection id, lets the server count sibling tabs

	HeartbeatInterval time.Duration
	// OfflineDelay is how long a hidden tab waits before reporting offline,
	// and how long it must have been hidden to re-assert online when shown.
	OfflineDelay time.Duration
	// LeftFlagTTL bounds how recent a teardown must be for Start to treat
	// the page as a reload.
	LeftFlagTTL time.Duration
	CallTimeout time.Duration

	Clock clock.Clock
}

func (c *Config) norm() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.OfflineDelay <= 0 {
		c.OfflineDelay = 30 * time.Second
	}
	if c.LeftFlagTTL <= 0 {
		c.LeftFlagTTL = 10 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.Real
	}
}

type Tracker struct {
	conf   Config
	api    API
	beacon Beacon
	tabs   *TabState
	log    *zap.Logger

	mu           sync.Mutex
	state        State
	running      bool
	hiddenAt     time.Time
	lastInteract time.Time
	lastTick     time.Time
	offTimer     clock.Timer
	offSeq       uint64
	tick         clock.Timer
	retryOnline  bool
}

func NewTracker(conf Config, api API, beacon Beacon, tabs *TabState) *Tracker {
	conf.norm()
	safe.MustNotNil(api, "api")
	safe.MustNotNil(tabs, "tabs")
	return &Tracker{
		conf:   conf,
		api:    api,
		beacon: beacon,
		tabs:   tabs,
		log:    logger.Named("activity").With(zap.Int64("user_id", conf.UserID), zap.String("tab", tabs.TabID())),
		state:  Offline,
	}
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start asserts online and begins heartbeating. A locked account is
// reported as errs.ErrUserLocked and leaves the tracker stopped. A left
// flag written moments ago means this page is a reload of one that
// already reported offline, so the online report is forced.
func (t *Tracker) Start(ctx context.Context) error {
	res, err := t.api.CheckLockStatus(ctx, t.conf.UserID)
	switch {
	case err != nil:
		t.log.Warn("lock check failed, continuing", zap.Error(err))
	case res.IsLocked:
		reason := ""
		if res.LockInfo != nil {
			reason = res.LockInfo.Reason
		}
		return errs.ErrUserLocked.WrapMsg("account locked", "user_id", t.conf.UserID, "reason", reason)
	}

	force := false
	if at, ok, err := t.tabs.LeftAt(ctx); err == nil && ok && t.conf.Clock.Now().Sub(at) <= t.conf.LeftFlagTTL {
		force = true
		_ = t.tabs.ClearLeft(ctx)
	}
	if err := t.tabs.SetVisible(ctx, true); err != nil {
		t.log.Debug("tab state write failed", zap.Error(err))
	}

	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = true
	t.state = Active
	t.lastInteract = t.conf.Clock.Now()
	t.lastTick = t.lastInteract
	t.scheduleTickLocked()
	t.mu.Unlock()

	t.online(ctx, force)
	return nil
}

func (t *Tracker) Hidden(ctx context.Context) {
	if err := t.tabs.SetVisible(ctx, false); err != nil {
		t.log.Debug("tab state write failed", zap.Error(err))
	}
	t.handle(ctx, EvHidden)
}

func (t *Tracker) Visible(ctx context.Context) {
	t.handle(ctx, EvVisible)
	if err := t.tabs.SetVisible(ctx, true); err != nil {
		t.log.Debug("tab state write failed", zap.Error(err))
	}
}

// Interact records user input. While active it only stamps the last
// interaction; the next tick reads it.
func (t *Tracker) Interact(ctx context.Context) { t.handle(ctx, EvInteract) }

// Teardown reports offline through the beacon and stops the tracker.
func (t *Tracker) Teardown(ctx context.Context) { t.handle(ctx, EvTeardown) }

func (t *Tracker) gather(ctx context.Context, ev Event) facts {
	f := facts{Threshold: t.conf.OfflineDelay}
	switch ev {
	case EvVisible:
		s, err := t.tabs.Status(ctx)
		if err != nil {
			t.log.Debug("tab state read failed", zap.Error(err))
		}
		f.SharedOffline = s == model.StatusOffline
	case EvOfflineTimer:
		v, err := t.tabs.SiblingVisible(ctx)
		if err != nil {
			t.log.Debug("tab state read failed", zap.Error(err))
		}
		f.SiblingVisible = v
	}
	return f
}

func (t *Tracker) handle(ctx context.Context, ev Event) {
	f := t.gather(ctx, ev)

	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	now := t.conf.Clock.Now()
	prev := t.state
	switch ev {
	case EvHidden:
		if prev != HiddenPendingOffline {
			t.hiddenAt = now
		}
	case EvVisible:
		if prev == HiddenPendingOffline {
			f.HiddenFor = now.Sub(t.hiddenAt)
		}
	case EvInteract:
		t.lastInteract = now
	case EvTick:
		f.Interacted = t.lastInteract.After(t.lastTick)
		t.lastTick = now
	}

	next, acts := transition(prev, ev, f)
	t.state = next
	var (
		io         []action
		willOnline bool
	)
	for _, a := range acts {
		switch a {
		case actCancelTimer:
			t.cancelOfflineLocked()
		case actStartTimer:
			t.startOfflineLocked()
		default:
			willOnline = willOnline || a == actOnline
			io = append(io, a)
		}
	}
	retry := ev == EvTick && next == Active && t.retryOnline && !willOnline
	if ev == EvTeardown {
		t.stopLocked()
	}
	t.mu.Unlock()

	if prev != next {
		t.log.Debug("presence transition", zap.Stringer("event", ev), zap.Stringer("from", prev), zap.Stringer("to", next))
	}
	for _, a := range io {
		t.perform(ctx, a)
	}
	if retry {
		t.online(ctx, false)
	}
}

func (t *Tracker) perform(ctx context.Context, a action) {
	switch a {
	case actHeartbeat:
		if err := t.api.Heartbeat(ctx, t.conf.UserID, t.conf.ConnID); err != nil {
			t.failed("heartbeat", err)
		}
	case actOnline:
		t.online(ctx, false)
	case actOffline:
		if err := t.api.SetStatus(ctx, t.conf.UserID, t.conf.ConnID, model.StatusOffline, false); err != nil {
			t.log.Info("offline report failed", zap.Error(err))
		}
	case actShareOnline:
		_ = t.tabs.SetStatus(ctx, model.StatusOnline)
	case actShareOffline:
		_ = t.tabs.SetStatus(ctx, model.StatusOffline)
	case actBeacon:
		t.sendBeacon(ctx)
	case actRefreshTab:
		if t.State() != Active {
			return
		}
		if err := t.tabs.SetVisible(ctx, true); err != nil {
			t.log.Debug("tab state write failed", zap.Error(err))
		}
	case actMarkLeft:
		_ = t.tabs.SetVisible(ctx, false)
		if err := t.tabs.MarkLeft(ctx, t.conf.LeftFlagTTL); err != nil {
			t.log.Debug("left flag write failed", zap.Error(err))
		}
	}
}

func (t *Tracker) online(ctx context.Context, force bool) {
	err := t.api.SetStatus(ctx, t.conf.UserID, t.conf.ConnID, model.StatusOnline, force)
	t.mu.Lock()
	t.retryOnline = err != nil && !errs.ErrUserLocked.Is(err)
	t.mu.Unlock()
	if err != nil {
		t.failed("online report", err)
		return
	}
	_ = t.tabs.SetStatus(ctx, model.StatusOnline)
}

// failed logs a presence call error. A locked answer stops the tracker;
// anything else is left for the next tick.
func (t *Tracker) failed(what string, err error) {
	if errs.ErrUserLocked.Is(err) {
		t.log.Warn(what+": account locked, stopping", zap.Error(err))
		t.mu.Lock()
		t.state = Offline
		t.stopLocked()
		t.mu.Unlock()
		return
	}
	t.log.Info(what+" failed, retrying next tick", zap.Error(err))
}

func (t *Tracker) sendBeacon(ctx context.Context) {
	form := BeaconForm(t.conf.UserID, t.conf.ConnID, t.conf.Clock.Now())
	if t.beacon != nil && t.beacon.Send(form) {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, t.conf.CallTimeout)
	defer cancel()
	if err := t.api.PostBeaconSync(ctx, form); err != nil {
		t.log.Info("teardown report failed", zap.Error(err))
	}
}

func (t *Tracker) scheduleTickLocked() {
	t.tick = t.conf.Clock.AfterFunc(t.conf.HeartbeatInterval, t.onTick)
}

func (t *Tracker) onTick() {
	ctx, cancel := context.WithTimeout(context.Background(), t.conf.CallTimeout)
	t.handle(ctx, EvTick)
	cancel()

	t.mu.Lock()
	if t.running {
		t.scheduleTickLocked()
	}
	t.mu.Unlock()
}

func (t *Tracker) startOfflineLocked() {
	t.offSeq++
	seq := t.offSeq
	t.offTimer = t.conf.Clock.AfterFunc(t.conf.OfflineDelay, func() { t.onOfflineTimer(seq) })
}

func (t *Tracker) cancelOfflineLocked() {
	if t.offTimer != nil {
		t.offTimer.Stop()
		t.offTimer = nil
	}
	t.offSeq++
}

func (t *Tracker) onOfflineTimer(seq uint64) {
	t.mu.Lock()
	stale := seq != t.offSeq
	if !stale {
		t.offTimer = nil
	}
	t.mu.Unlock()
	if stale {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.conf.CallTimeout)
	defer cancel()
	t.handle(ctx, EvOfflineTimer)
}

func (t *Tracker) stopLocked() {
	t.running = false
	t.cancelOfflineLocked()
	if t.tick != nil {
		t.tick.Stop()
		t.tick = nil
	}
}
