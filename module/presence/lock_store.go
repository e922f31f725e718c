package presence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"PPresence/module/presence/model"
	"PPresence/tools/errs"
)

const lockColumns = `id, user_id, kind, reason, lock_time, unlock_time, status`

// LockStore persists user_locks rows. At most one row per user is locked;
// a new lock supersedes the previous one.
type LockStore struct {
	db *sql.DB
}

func NewLockStore(db *sql.DB) *LockStore { return &LockStore{db: db} }

// Lock inserts a new locked row. until must be set for LockKindLock and is
// ignored for LockKindBlock.
func (s *LockStore) Lock(ctx context.Context, userID int64, kind model.LockKind, reason string, now time.Time, until *time.Time) (*model.LockState, error) {
	switch kind {
	case model.LockKindBlock:
		until = nil
	case model.LockKindLock:
		if until == nil || !until.After(now) {
			return nil, errs.ErrArgs.WrapMsg("lock needs an unlock time in the future", "user_id", userID)
		}
	default:
		return nil, errs.ErrArgs.WrapMsg("unknown lock kind", "kind", kind)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.WrapMsg(err, "begin lock tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE user_locks SET status = 'unlocked' WHERE user_id = $1 AND status = 'locked'`, userID); err != nil {
		return nil, errs.WrapMsg(err, "supersede lock", "user_id", userID)
	}

	l := &model.LockState{UserID: userID, Kind: kind, Reason: reason, LockTime: now, UnlockTime: until, Status: model.LockStatusLocked}
	var ut sql.NullTime
	if until != nil {
		ut = sql.NullTime{Time: *until, Valid: true}
	}
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO user_locks (user_id, kind, reason, lock_time, unlock_time, status)
		 VALUES ($1, $2, $3, $4, $5, 'locked') RETURNING id`,
		userID, string(kind), reason, now, ut).Scan(&l.ID); err != nil {
		return nil, errs.WrapMsg(err, "insert lock", "user_id", userID)
	}
	if err := tx.Commit(); err != nil {
		return nil, errs.WrapMsg(err, "commit lock", "user_id", userID)
	}
	return l, nil
}

// Unlock releases every locked row of the user and returns how many changed.
func (s *LockStore) Unlock(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_locks SET status = 'unlocked' WHERE user_id = $1 AND status = 'locked'`, userID)
	if err != nil {
		return 0, errs.WrapMsg(err, "unlock user", "user_id", userID)
	}
	n, err := res.RowsAffected()
	return n, errs.Wrap(err)
}

// Active returns the lock currently in force, or nil.
func (s *LockStore) Active(ctx context.Context, userID int64, now time.Time) (*model.LockState, error) {
	var (
		l            model.LockState
		kind, status string
		ut           sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT `+lockColumns+` FROM user_locks
		 WHERE user_id = $1 AND status = 'locked' AND (unlock_time IS NULL OR unlock_time > $2)
		 ORDER BY lock_time DESC LIMIT 1`, userID, now).
		Scan(&l.ID, &l.UserID, &kind, &l.Reason, &l.LockTime, &ut, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "select active lock", "user_id", userID)
	}
	l.Kind, l.Status = model.LockKind(kind), model.LockStatus(status)
	if ut.Valid {
		t := ut.Time
		l.UnlockTime = &t
	}
	return &l, nil
}

// SweepExpired flips every elapsed lock to unlocked. Blocks never expire.
func (s *LockStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_locks SET status = 'unlocked'
		 WHERE status = 'locked' AND unlock_time IS NOT NULL AND unlock_time <= $1`, now)
	if err != nil {
		return 0, errs.WrapMsg(err, "sweep expired locks")
	}
	n, err := res.RowsAffected()
	return n, errs.Wrap(err)
}
