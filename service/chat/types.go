package chat

import "time"

// Handle is one live push-capable connection.
type Handle interface {
	ID() string
	Send(frame []byte) error
	Close(code int, reason string) error
}

// Hooks fire outside the registry lock. OnOnline runs when a user's first
// handle is registered, OnOffline when the last one is gone.
type Hooks struct {
	OnOnline  func(userID int64)
	OnOffline func(userID int64)
}

type ConnInfo struct {
	ConnID    string    `json:"conn_id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	Heartbeat time.Time `json:"heartbeat"`
	Active    bool      `json:"active"`
}

// 自定义 close code
const (
	CloseForceLogout = 4001
	CloseLocked      = 4003
	CloseReplaced    = 4009
)
