package model

import (
	"time"

	"PPresence/data/database"
)

type Conversation struct {
	ID        int64     `json:"id"`
	User1ID   int64     `json:"user1_id"`
	User2ID   int64     `json:"user2_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (Conversation) GetTableName() string { return database.TableConversations }

func (c *Conversation) Has(userID int64) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// Peer returns the other participant.
func (c *Conversation) Peer(userID int64) int64 {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

type Message struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	SenderID       int64      `json:"sender_id"`
	Content        string     `json:"content"`
	IsRead         bool       `json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (Message) GetTableName() string { return database.TableMessages }

// ReadRow is one message flipped to read.
type ReadRow struct {
	ID       int64
	SenderID int64
	ReadAt   time.Time
}

// ReadReceipt is the message_read_receipt payload, one per original sender.
type ReadReceipt struct {
	ConversationID int64     `json:"conversation_id"`
	ReaderID       int64     `json:"reader_id"`
	MessageIDs     []int64   `json:"message_ids"`
	ReadAt         time.Time `json:"read_at"`
}

type ReadResult struct {
	ConversationID int64             `json:"conversation_id"`
	Affected       int               `json:"affected"`
	ReadAt         *time.Time        `json:"read_at,omitempty"`
	BySender       map[int64][]int64 `json:"by_sender,omitempty"`
}

type ConversationUnread struct {
	ConversationID int64 `json:"conversation_id"`
	Unread         int64 `json:"unread"`
}

// UnreadSummary is the unread_count_update payload.
type UnreadSummary struct {
	UserID        int64                `json:"user_id"`
	TotalUnread   int64                `json:"total_unread"`
	Conversations []ConversationUnread `json:"conversations"`
	Timestamp     int64                `json:"timestamp"`
}
