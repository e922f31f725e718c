package chat

import (
	"context"

	"PPresence/logger"
	"PPresence/module/chat/model"
	wschat "PPresence/service/chat"
	"PPresence/tools/clock"

	"go.uber.org/zap"
)

// FriendNotifier pushes the social events raised by the friends CRUD service.
type FriendNotifier struct {
	store  *Store
	notify Notifier
	clock  clock.Clock
	log    *zap.Logger
}

func NewFriendNotifier(store *Store, notify Notifier, clk clock.Clock) *FriendNotifier {
	if clk == nil {
		clk = clock.Real
	}
	return &FriendNotifier{store: store, notify: notify, clock: clk, log: logger.Named("friend")}
}

// RequestSent notifies the receiver of a new request and its pending count.
func (f *FriendNotifier) RequestSent(ctx context.Context, ev model.FriendRequestEvent) bool {
	if ev.Timestamp == 0 {
		ev.Timestamp = f.clock.Now().UnixMilli()
	}
	ok := f.notify.Dispatch(ctx, ev.ReceiverID, wschat.EventFriendRequest, ev)
	f.pushCount(ctx, ev.ReceiverID)
	return ok
}

// RequestAccepted tells the original sender, then refreshes the accepter's count.
func (f *FriendNotifier) RequestAccepted(ctx context.Context, senderID int64, ev model.FriendAcceptedEvent) bool {
	if ev.Timestamp == 0 {
		ev.Timestamp = f.clock.Now().UnixMilli()
	}
	ok := f.notify.Dispatch(ctx, senderID, wschat.EventFriendRequestAccepted, ev)
	f.pushCount(ctx, ev.UserID)
	return ok
}

func (f *FriendNotifier) pushCount(ctx context.Context, userID int64) {
	n, err := f.store.PendingFriendRequests(ctx, userID)
	if err != nil {
		f.log.Warn("friend request count", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	f.notify.Dispatch(ctx, userID, wschat.EventFriendRequestCountUpdate, model.FriendRequestCount{
		UserID: userID, Count: n, Timestamp: f.clock.Now().UnixMilli(),
	})
}
