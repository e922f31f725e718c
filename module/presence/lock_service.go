package presence

import (
	"context"
	"time"

	"PPresence/logger"
	"PPresence/module/presence/model"
	"PPresence/tools/clock"

	"go.uber.org/zap"
)

// Disconnector pushes force_logout and drops the user's live connections.
type Disconnector interface {
	ForceDisconnect(ctx context.Context, userID int64, reason string) bool
}

type LockService struct {
	locks *LockStore
	store *Store
	disc  Disconnector
	clock clock.Clock
	log   *zap.Logger
}

func NewLockService(locks *LockStore, store *Store, disc Disconnector, clk clock.Clock) *LockService {
	if clk == nil {
		clk = clock.Real
	}
	return &LockService{locks: locks, store: store, disc: disc, clock: clk, log: logger.Named("lock")}
}

// LockResult is returned to the admin caller.
type LockResult struct {
	Lock         *model.LockState `json:"lock"`
	Disconnected bool             `json:"disconnected"`
}

// Lock persists the lock, marks the user offline and drops its connections.
// A LockKindLock needs d > 0; LockKindBlock ignores d.
func (s *LockService) Lock(ctx context.Context, userID int64, kind model.LockKind, reason string, d time.Duration) (*LockResult, error) {
	if err := s.store.Exists(ctx, userID); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	var until *time.Time
	if kind == model.LockKindLock && d > 0 {
		t := now.Add(d)
		until = &t
	}
	l, err := s.locks.Lock(ctx, userID, kind, reason, now, until)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.SetStatus(ctx, userID, model.StatusOffline, true); err != nil {
		s.log.Warn("mark locked user offline", zap.Int64("user_id", userID), zap.Error(err))
	}
	res := &LockResult{Lock: l}
	if s.disc != nil {
		res.Disconnected = s.disc.ForceDisconnect(ctx, userID, reason)
	}
	s.log.Info("user locked", zap.Int64("user_id", userID), zap.String("kind", string(kind)),
		zap.String("reason", reason), zap.Bool("disconnected", res.Disconnected))
	return res, nil
}

func (s *LockService) Unlock(ctx context.Context, userID int64) (int64, error) {
	if err := s.store.Exists(ctx, userID); err != nil {
		return 0, err
	}
	n, err := s.locks.Unlock(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.log.Info("user unlocked", zap.Int64("user_id", userID), zap.Int64("rows", n))
	return n, nil
}

// ForceLogout drops the user's connections without locking the account.
func (s *LockService) ForceLogout(ctx context.Context, userID int64, reason string) (bool, error) {
	if _, err := s.store.SetStatus(ctx, userID, model.StatusOffline, true); err != nil {
		return false, err
	}
	if s.disc == nil {
		return false, nil
	}
	return s.disc.ForceDisconnect(ctx, userID, reason), nil
}

func (s *LockService) CheckLockStatus(ctx context.Context, userID int64) (model.LockStatusResult, error) {
	if err := s.store.Exists(ctx, userID); err != nil {
		return model.LockStatusResult{}, err
	}
	now := s.clock.Now()
	l, err := s.locks.Active(ctx, userID, now)
	if err != nil {
		return model.LockStatusResult{}, err
	}
	if !l.Active(now) {
		return model.LockStatusResult{IsLocked: false}, nil
	}
	return model.LockStatusResult{IsLocked: true, LockInfo: l.Info(now)}, nil
}

// IsLocked is consulted on the websocket handshake.
func (s *LockService) IsLocked(ctx context.Context, userID int64) (bool, string, error) {
	l, err := s.locks.Active(ctx, userID, s.clock.Now())
	if err != nil || l == nil {
		return false, "", err
	}
	return true, l.Reason, nil
}
