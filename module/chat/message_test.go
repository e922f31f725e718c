package chat

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"PPresence/module/chat/model"
	wschat "PPresence/service/chat"
	"PPresence/tools/clock"
	"PPresence/tools/errs"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSendPushesMessageAndUnread(t *testing.T) {
	db, mock := newMock(t)
	n := &fakeNotifier{online: map[int64]bool{2: true}}
	clk := clock.NewFake(t0)
	store := NewStore(db)
	svc := NewMessageService(store, NewReconciler(store, n, clk), n, clk)

	expectConv(mock, 10, 1, 2)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WithArgs(int64(10), int64(1), "hi", t0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(55))
	expectUnread(mock, 2, [2]int64{10, 1})

	res, err := svc.Send(context.Background(), 10, 1, "  hi ")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Delivered || res.Message.ID != 55 {
		t.Fatalf("res = %+v", res)
	}
	msgs := n.byEvent(wschat.EventNewMessage)
	if len(msgs) != 1 || msgs[0].userID != 2 || msgs[0].payload.(*model.Message).Content != "hi" {
		t.Fatalf("new_message = %+v", msgs)
	}
	if u := n.byEvent(wschat.EventUnreadCountUpdate); len(u) != 1 || u[0].userID != 2 {
		t.Fatalf("unread = %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSendValidation(t *testing.T) {
	db, mock := newMock(t)
	n := &fakeNotifier{}
	store := NewStore(db)
	svc := NewMessageService(store, NewReconciler(store, n, nil), n, nil)

	if _, err := svc.Send(context.Background(), 10, 1, "   "); !errs.ErrArgs.Is(err) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := svc.Send(context.Background(), 10, 1, strings.Repeat("x", maxContentLen+1)); !errs.ErrArgs.Is(err) {
		t.Fatalf("long: %v", err)
	}
	expectConv(mock, 10, 1, 2)
	if _, err := svc.Send(context.Background(), 10, 3, "hi"); !errs.ErrNoPermission.Is(err) {
		t.Fatalf("outsider: %v", err)
	}
	if len(n.pushes) != 0 {
		t.Fatalf("pushes = %+v", n.pushes)
	}
}

func TestFriendNotifier(t *testing.T) {
	db, mock := newMock(t)
	n := &fakeNotifier{online: map[int64]bool{2: true}}
	f := NewFriendNotifier(NewStore(db), n, clock.NewFake(t0))

	countQ := regexp.QuoteMeta("SELECT COUNT(*) FROM friend_requests WHERE receiver_id = $1 AND status = 'pending'")
	mock.ExpectQuery(countQ).WithArgs(int64(2)).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(countQ).WithArgs(int64(2)).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	if !f.RequestSent(context.Background(), model.FriendRequestEvent{RequestID: 9, SenderID: 1, ReceiverID: 2}) {
		t.Fatal("receiver is online")
	}
	if f.RequestAccepted(context.Background(), 1, model.FriendAcceptedEvent{RequestID: 9, UserID: 2}) {
		t.Fatal("sender is offline")
	}

	reqs := n.byEvent(wschat.EventFriendRequest)
	if len(reqs) != 1 || reqs[0].payload.(model.FriendRequestEvent).Timestamp != t0.UnixMilli() {
		t.Fatalf("requests = %+v", reqs)
	}
	counts := n.byEvent(wschat.EventFriendRequestCountUpdate)
	if len(counts) != 2 || counts[0].payload.(model.FriendRequestCount).Count != 3 || counts[1].payload.(model.FriendRequestCount).Count != 2 {
		t.Fatalf("counts = %+v", counts)
	}
	if acc := n.byEvent(wschat.EventFriendRequestAccepted); len(acc) != 1 || acc[0].userID != 1 {
		t.Fatalf("accepted = %+v", acc)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
