package chat

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"PPresence/module/chat/model"
	"PPresence/tools/errs"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Conversation(ctx context.Context, convID int64) (*model.Conversation, error) {
	c := &model.Conversation{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user1_id, user2_id, created_at FROM conversations WHERE id = $1`, convID).
		Scan(&c.ID, &c.User1ID, &c.User2ID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrRecordNotFound.WrapMsg("conversation not found", "conversation_id", convID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "get conversation", "conversation_id", convID)
	}
	return c, nil
}

// MarkRead flips every unread message of the conversation not sent by
// readerID and returns the flipped rows.
func (s *Store) MarkRead(ctx context.Context, convID, readerID int64, readAt time.Time) ([]model.ReadRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE messages SET is_read = true, read_at = $3
		 WHERE conversation_id = $1 AND sender_id <> $2 AND is_read = false
		 RETURNING id, sender_id, read_at`, convID, readerID, readAt)
	if err != nil {
		return nil, errs.WrapMsg(err, "mark read", "conversation_id", convID, "reader_id", readerID)
	}
	defer rows.Close()

	var out []model.ReadRow
	for rows.Next() {
		var r model.ReadRow
		if err := rows.Scan(&r.ID, &r.SenderID, &r.ReadAt); err != nil {
			return nil, errs.WrapMsg(err, "scan read row")
		}
		out = append(out, r)
	}
	return out, errs.Wrap(rows.Err())
}

// UnreadByConversation counts unread incoming messages for every
// conversation the user takes part in, including ones at zero.
func (s *Store) UnreadByConversation(ctx context.Context, userID int64) ([]model.ConversationUnread, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, COUNT(m.id)
		 FROM conversations c
		 LEFT JOIN messages m
		   ON m.conversation_id = c.id AND m.sender_id <> $1 AND m.is_read = false
		 WHERE c.user1_id = $1 OR c.user2_id = $1
		 GROUP BY c.id
		 ORDER BY c.id`, userID)
	if err != nil {
		return nil, errs.WrapMsg(err, "count unread", "user_id", userID)
	}
	defer rows.Close()

	out := []model.ConversationUnread{}
	for rows.Next() {
		var u model.ConversationUnread
		if err := rows.Scan(&u.ConversationID, &u.Unread); err != nil {
			return nil, errs.WrapMsg(err, "scan unread")
		}
		out = append(out, u)
	}
	return out, errs.Wrap(rows.Err())
}

func (s *Store) InsertMessage(ctx context.Context, convID, senderID int64, content string, now time.Time) (*model.Message, error) {
	m := &model.Message{ConversationID: convID, SenderID: senderID, Content: content, CreatedAt: now}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, content, is_read, created_at)
		 VALUES ($1, $2, $3, false, $4) RETURNING id`, convID, senderID, content, now).Scan(&m.ID)
	if err != nil {
		return nil, errs.WrapMsg(err, "insert message", "conversation_id", convID)
	}
	return m, nil
}

func (s *Store) PendingFriendRequests(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM friend_requests WHERE receiver_id = $1 AND status = 'pending'`, userID).Scan(&n)
	if err != nil {
		return 0, errs.WrapMsg(err, "count friend requests", "user_id", userID)
	}
	return n, nil
}
