package chat

import (
	"context"
	"sort"

	"PPresence/logger"
	"PPresence/module/chat/model"
	wschat "PPresence/service/chat"
	"PPresence/tools/clock"
	"PPresence/tools/errs"

	"go.uber.org/zap"
)

// Notifier pushes an event to a user's live connections.
type Notifier interface {
	Dispatch(ctx context.Context, userID int64, event string, payload any) bool
}

// Reconciler keeps read receipts and unread counters in step with the
// messages table.
type Reconciler struct {
	store  *Store
	notify Notifier
	clock  clock.Clock
	log    *zap.Logger
}

func NewReconciler(store *Store, notify Notifier, clk clock.Clock) *Reconciler {
	if clk == nil {
		clk = clock.Real
	}
	return &Reconciler{store: store, notify: notify, clock: clk, log: logger.Named("reconciler")}
}

// MarkAllRead marks the conversation read for readerID. Each original
// sender gets one message_read_receipt; the reader then gets a fresh
// unread_count_update over all conversations. Nothing is pushed when no
// message changed.
func (r *Reconciler) MarkAllRead(ctx context.Context, convID, readerID int64) (*model.ReadResult, error) {
	conv, err := r.store.Conversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.Has(readerID) {
		return nil, errs.ErrNoPermission.WrapMsg("not a participant", "conversation_id", convID, "user_id", readerID)
	}

	rows, err := r.store.MarkRead(ctx, convID, readerID, r.clock.Now())
	if err != nil {
		return nil, err
	}
	res := &model.ReadResult{ConversationID: convID, Affected: len(rows)}
	if len(rows) == 0 {
		return res, nil
	}
	// receipts carry the stored value, not the local clock
	readAt := rows[0].ReadAt
	res.ReadAt = &readAt
	res.BySender = make(map[int64][]int64)
	for _, row := range rows {
		res.BySender[row.SenderID] = append(res.BySender[row.SenderID], row.ID)
	}

	senders := make([]int64, 0, len(res.BySender))
	for sid := range res.BySender {
		senders = append(senders, sid)
	}
	sort.Slice(senders, func(i, j int) bool { return senders[i] < senders[j] })
	for _, sid := range senders {
		r.notify.Dispatch(ctx, sid, wschat.EventMessageReadReceipt, model.ReadReceipt{
			ConversationID: convID,
			ReaderID:       readerID,
			MessageIDs:     res.BySender[sid],
			ReadAt:         readAt,
		})
	}

	r.PushUnread(ctx, readerID)
	return res, nil
}

func (r *Reconciler) UnreadCounts(ctx context.Context, userID int64) (*model.UnreadSummary, error) {
	convs, err := r.store.UnreadByConversation(ctx, userID)
	if err != nil {
		return nil, err
	}
	sum := &model.UnreadSummary{UserID: userID, Conversations: convs, Timestamp: r.clock.Now().UnixMilli()}
	for _, c := range convs {
		sum.TotalUnread += c.Unread
	}
	return sum, nil
}

// PushUnread sends the user a fresh unread_count_update. Failures are logged.
func (r *Reconciler) PushUnread(ctx context.Context, userID int64) bool {
	sum, err := r.UnreadCounts(ctx, userID)
	if err != nil {
		r.log.Warn("unread counts", zap.Int64("user_id", userID), zap.Error(err))
		return false
	}
	return r.notify.Dispatch(ctx, userID, wschat.EventUnreadCountUpdate, sum)
}
