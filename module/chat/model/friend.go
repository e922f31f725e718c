package model

import "PPresence/data/database"

// FriendRequestStatus
const (
	FriendPending  = "pending"
	FriendAccepted = "accepted"
	FriendRejected = "rejected"
)

// FriendRequestEvent is the friend_request payload.
type FriendRequestEvent struct {
	RequestID  int64  `json:"request_id"`
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	SenderName string `json:"sender_name,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

func (FriendRequestEvent) GetTableName() string { return database.TableFriendRequests }

type FriendRequestCount struct {
	UserID    int64 `json:"user_id"`
	Count     int64 `json:"count"`
	Timestamp int64 `json:"timestamp"`
}

// FriendAcceptedEvent goes to the user whose request was accepted.
type FriendAcceptedEvent struct {
	RequestID int64  `json:"request_id"`
	UserID    int64  `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
