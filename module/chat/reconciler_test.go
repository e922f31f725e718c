package chat

import (
	"context"
	"database/sql"
	"regexp"
	"sync"
	"testing"
	"time"

	"PPresence/module/chat/model"
	wschat "PPresence/service/chat"
	"PPresence/tools/clock"
	"PPresence/tools/errs"

	"github.com/DATA-DOG/go-sqlmock"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type pushed struct {
	userID  int64
	event   string
	payload any
}

type fakeNotifier struct {
	mu     sync.Mutex
	pushes []pushed
	online map[int64]bool
}

func (f *fakeNotifier) Dispatch(_ context.Context, userID int64, event string, payload any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, pushed{userID, event, payload})
	return f.online[userID]
}

func (f *fakeNotifier) Broadcast(_ context.Context, event string, payload any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, pushed{0, event, payload})
	return len(f.online)
}

func (f *fakeNotifier) byEvent(event string) []pushed {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pushed
	for _, p := range f.pushes {
		if p.event == event {
			out = append(out, p)
		}
	}
	return out
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func expectConv(mock sqlmock.Sqlmock, convID, u1, u2 int64) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user1_id, user2_id, created_at FROM conversations WHERE id = $1")).
		WithArgs(convID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user1_id", "user2_id", "created_at"}).AddRow(convID, u1, u2, t0))
}

func expectUnread(mock sqlmock.Sqlmock, userID int64, rows ...[2]int64) {
	r := sqlmock.NewRows([]string{"id", "count"})
	for _, row := range rows {
		r.AddRow(row[0], row[1])
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT c.id, COUNT(m.id)")).WithArgs(userID).WillReturnRows(r)
}

func TestMarkAllReadGroupsBySender(t *testing.T) {
	db, mock := newMock(t)
	n := &fakeNotifier{}
	r := NewReconciler(NewStore(db), n, clock.NewFake(t0))

	expectConv(mock, 10, 1, 2)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE messages SET is_read = true, read_at = $3")).
		WithArgs(int64(10), int64(1), t0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sender_id", "read_at"}).
			AddRow(100, 2, t0).AddRow(101, 2, t0).AddRow(102, 3, t0))
	expectUnread(mock, 1, [2]int64{10, 0}, [2]int64{11, 4})

	res, err := r.MarkAllRead(context.Background(), 10, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Affected != 3 || res.ReadAt == nil || !res.ReadAt.Equal(t0) {
		t.Fatalf("res = %+v", res)
	}

	receipts := n.byEvent(wschat.EventMessageReadReceipt)
	if len(receipts) != 2 {
		t.Fatalf("receipts = %+v", receipts)
	}
	first := receipts[0].payload.(model.ReadReceipt)
	if receipts[0].userID != 2 || len(first.MessageIDs) != 2 || first.ReaderID != 1 || !first.ReadAt.Equal(t0) {
		t.Fatalf("first receipt = %+v", receipts[0])
	}
	if receipts[1].userID != 3 {
		t.Fatalf("second receipt = %+v", receipts[1])
	}

	updates := n.byEvent(wschat.EventUnreadCountUpdate)
	if len(updates) != 1 || updates[0].userID != 1 {
		t.Fatalf("updates = %+v", updates)
	}
	sum := updates[0].payload.(*model.UnreadSummary)
	if sum.TotalUnread != 4 || len(sum.Conversations) != 2 || sum.Conversations[0].Unread != 0 {
		t.Fatalf("summary = %+v", sum)
	}

	// receipts are dispatched only after the update returned
	if n.pushes[0].event != wschat.EventMessageReadReceipt {
		t.Fatalf("first push = %s", n.pushes[0].event)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkAllReadUsesStoredReadAt(t *testing.T) {
	db, mock := newMock(t)
	n := &fakeNotifier{}
	now := t0.Add(789 * time.Nanosecond)
	r := NewReconciler(NewStore(db), n, clock.NewFake(now))

	// postgres keeps microseconds; the receipt reports what was stored
	expectConv(mock, 10, 1, 2)
	mock.ExpectQuery(regexp.QuoteMeta("RETURNING id, sender_id, read_at")).
		WithArgs(int64(10), int64(1), now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sender_id", "read_at"}).AddRow(100, 2, t0))
	expectUnread(mock, 1, [2]int64{10, 0})

	res, err := r.MarkAllRead(context.Background(), 10, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !res.ReadAt.Equal(t0) {
		t.Fatalf("read_at = %v, want %v", res.ReadAt, t0)
	}
	receipts := n.byEvent(wschat.EventMessageReadReceipt)
	if len(receipts) != 1 || !receipts[0].payload.(model.ReadReceipt).ReadAt.Equal(t0) {
		t.Fatalf("receipts = %+v", receipts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkAllReadIdempotent(t *testing.T) {
	db, mock := newMock(t)
	n := &fakeNotifier{}
	r := NewReconciler(NewStore(db), n, clock.NewFake(t0))

	expectConv(mock, 10, 1, 2)
	mock.ExpectQuery("UPDATE messages").WithArgs(int64(10), int64(1), t0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sender_id", "read_at"}))

	res, err := r.MarkAllRead(context.Background(), 10, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Affected != 0 || res.ReadAt != nil {
		t.Fatalf("res = %+v", res)
	}
	if len(n.pushes) != 0 {
		t.Fatalf("nothing should be pushed, got %+v", n.pushes)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkAllReadChecksParticipant(t *testing.T) {
	db, mock := newMock(t)
	r := NewReconciler(NewStore(db), &fakeNotifier{}, clock.NewFake(t0))

	expectConv(mock, 10, 1, 2)
	mock.ExpectQuery("FROM conversations").WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user1_id", "user2_id", "created_at"}))

	if _, err := r.MarkAllRead(context.Background(), 10, 9); !errs.ErrNoPermission.Is(err) {
		t.Fatalf("err = %v", err)
	}
	if _, err := r.MarkAllRead(context.Background(), 11, 1); !errs.ErrRecordNotFound.Is(err) {
		t.Fatalf("err = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
