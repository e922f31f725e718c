package presence

import (
	"context"
	"time"

	"PPresence/logger"
	"PPresence/module/presence/model"
	"PPresence/service/chat"
	"PPresence/service/metrics"
	"PPresence/tools/clock"
	"PPresence/tools/errs"

	"go.uber.org/zap"
)

// Connections is the part of the connection registry presence needs.
type Connections interface {
	Touch(connID string) bool
	SetActive(connID string, active bool) bool
	ActiveCount(userID int64, exceptConnID string) int
	Info(connID string) (chat.ConnInfo, bool)
}

// ClusterIndex tracks which node holds a user's sockets.
type ClusterIndex interface {
	Join(ctx context.Context, userID int64) error
	Leave(ctx context.Context, userID int64) (int64, error)
}

const hookTimeout = 3 * time.Second

// Service applies client reports and registry transitions to the Presence Store.
type Service struct {
	store   *Store
	locks   *LockStore
	conns   Connections
	index   ClusterIndex
	clock   clock.Clock
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewService(store *Store, locks *LockStore, conns Connections, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real
	}
	return &Service{store: store, locks: locks, conns: conns, clock: clk, log: logger.Named("presence")}
}

func (s *Service) SetClusterIndex(idx ClusterIndex) { s.index = idx }

func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

func (s *Service) Store() *Store { return s.store }

// Report applies a client status report. Locked users cannot go online.
// An Offline report from one connection is held back while another
// connection of the same user is still active.
func (s *Service) Report(ctx context.Context, userID int64, connID string, status model.Status, force bool) error {
	connID = s.ownConn(userID, connID)
	source := sourceOf(connID)
	if status == model.StatusOnline {
		if locked, err := s.locked(ctx, userID); err != nil {
			s.log.Warn("lock lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		} else if locked {
			s.metrics.Presence(string(status), source, "locked")
			return errs.ErrUserLocked.WrapMsg("user is locked", "user_id", userID)
		}
	}

	if connID != "" && s.conns != nil {
		s.conns.SetActive(connID, status == model.StatusOnline)
		if status == model.StatusOffline && s.conns.ActiveCount(userID, connID) > 0 {
			s.metrics.Presence(string(status), source, "deferred")
			return s.store.TouchActivity(ctx, userID)
		}
	}

	changed, err := s.store.SetStatus(ctx, userID, status, force)
	s.record(status, source, changed, err)
	return err
}

// Heartbeat refreshes liveness and brings a swept user back online.
func (s *Service) Heartbeat(ctx context.Context, userID int64, connID string) error {
	connID = s.ownConn(userID, connID)
	if connID != "" && s.conns != nil {
		s.conns.Touch(connID)
	}
	cur, err := s.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	if cur.Status == model.StatusOnline {
		return s.store.TouchActivity(ctx, userID)
	}
	if locked, err := s.locked(ctx, userID); err == nil && locked {
		return errs.ErrUserLocked.WrapMsg("user is locked", "user_id", userID)
	}
	changed, err := s.store.SetStatus(ctx, userID, model.StatusOnline, false)
	s.record(model.StatusOnline, "heartbeat", changed, err)
	return err
}

// ownConn drops a conn id registered to another user. Unknown ids pass
// through; the socket may live on another node.
func (s *Service) ownConn(userID int64, connID string) string {
	if connID == "" || s.conns == nil {
		return connID
	}
	if info, ok := s.conns.Info(connID); ok && info.UserID != userID {
		s.log.Warn("conn id belongs to another user", zap.Int64("user_id", userID), zap.Int64("owner", info.UserID), zap.String("conn_id", connID))
		return ""
	}
	return connID
}

func (s *Service) Get(ctx context.Context, userID int64) (model.UserPresence, error) {
	return s.store.Get(ctx, userID)
}

func (s *Service) Batch(ctx context.Context, userIDs []int64) ([]model.UserPresence, error) {
	return s.store.ListStatuses(ctx, userIDs)
}

// OnOnline is the registry hook for a user's first connection.
func (s *Service) OnOnline(userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	changed, err := s.store.SetStatus(ctx, userID, model.StatusOnline, false)
	s.record(model.StatusOnline, "hook", changed, err)
	if err != nil {
		s.log.Warn("online hook", zap.Int64("user_id", userID), zap.Error(err))
	}
	if s.index != nil {
		if err := s.index.Join(ctx, userID); err != nil {
			s.log.Warn("online index join", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
}

// OnOffline is the registry hook for a user's last connection going away.
func (s *Service) OnOffline(userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	changed, err := s.store.SetStatus(ctx, userID, model.StatusOffline, true)
	s.record(model.StatusOffline, "hook", changed, err)
	if err != nil {
		s.log.Warn("offline hook", zap.Int64("user_id", userID), zap.Error(err))
	}
	if s.index != nil {
		if _, err := s.index.Leave(ctx, userID); err != nil {
			s.log.Warn("online index leave", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
}

func (s *Service) locked(ctx context.Context, userID int64) (bool, error) {
	if s.locks == nil {
		return false, nil
	}
	l, err := s.locks.Active(ctx, userID, s.clock.Now())
	return l != nil, err
}

func (s *Service) record(status model.Status, source string, changed bool, err error) {
	result := "noop"
	switch {
	case err != nil:
		result = "error"
	case changed:
		result = "changed"
	}
	s.metrics.Presence(string(status), source, result)
}

func sourceOf(connID string) string {
	if connID != "" {
		return "ws"
	}
	return "http"
}
