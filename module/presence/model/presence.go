package model

import (
	"strings"
	"time"

	"PPresence/data/database"
	"PPresence/tools/errs"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusOnline:
		return StatusOnline, nil
	case StatusOffline:
		return StatusOffline, nil
	}
	return "", errs.ErrArgs.WrapMsg("unknown status", "status", s)
}

// UserPresence 用户在线状态，对应 users 表的 status/last_activity 两列
type UserPresence struct {
	UserID       int64      `json:"user_id"`
	Status       Status     `json:"status"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

func (UserPresence) GetTableName() string { return database.TableUsers }
