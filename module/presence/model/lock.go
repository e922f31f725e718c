package model

import (
	"time"

	"PPresence/data/database"
	"PPresence/tools/errs"
)

// LockKind lock 有解锁时间，block 永久（只能手动解除）
type LockKind string

const (
	LockKindLock  LockKind = "lock"
	LockKindBlock LockKind = "block"
)

func ParseLockKind(s string) (LockKind, error) {
	switch LockKind(s) {
	case LockKindLock, "":
		return LockKindLock, nil
	case LockKindBlock:
		return LockKindBlock, nil
	}
	return "", errs.ErrArgs.WrapMsg("unknown lock kind", "kind", s)
}

type LockStatus string

const (
	LockStatusLocked   LockStatus = "locked"
	LockStatusUnlocked LockStatus = "unlocked"
)

type LockState struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	Kind       LockKind   `json:"kind"`
	Reason     string     `json:"reason"`
	LockTime   time.Time  `json:"lock_time"`
	UnlockTime *time.Time `json:"unlock_time,omitempty"`
	Status     LockStatus `json:"status"`
}

func (LockState) GetTableName() string { return database.TableUserLocks }

// Active reports whether the lock still blocks the user at now.
func (l *LockState) Active(now time.Time) bool {
	if l == nil || l.Status != LockStatusLocked {
		return false
	}
	return l.UnlockTime == nil || l.UnlockTime.After(now)
}

// LockInfo is the client-facing view of an active lock.
type LockInfo struct {
	Kind             LockKind   `json:"kind"`
	Reason           string     `json:"reason"`
	LockTime         time.Time  `json:"lock_time"`
	UnlockTime       *time.Time `json:"unlock_time,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds,omitempty"`
}

func (l *LockState) Info(now time.Time) *LockInfo {
	info := &LockInfo{Kind: l.Kind, Reason: l.Reason, LockTime: l.LockTime, UnlockTime: l.UnlockTime}
	if l.UnlockTime != nil {
		if rem := l.UnlockTime.Sub(now); rem > 0 {
			info.RemainingSeconds = int64(rem.Seconds())
		}
	}
	return info
}

type LockStatusResult struct {
	IsLocked bool      `json:"isLocked"`
	LockInfo *LockInfo `json:"lockInfo,omitempty"`
}
