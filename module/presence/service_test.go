package presence

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"PPresence/module/presence/model"
	"PPresence/service/chat"
	"PPresence/tools/clock"
	"PPresence/tools/errs"

	"github.com/DATA-DOG/go-sqlmock"
)

type fakeConns struct {
	mu      sync.Mutex
	active  map[string]bool
	owner   map[string]int64
	touched []string
}

func newFakeConns() *fakeConns {
	return &fakeConns{active: map[string]bool{}, owner: map[string]int64{}}
}

func (f *fakeConns) add(userID int64, connID string, active bool) {
	f.owner[connID] = userID
	f.active[connID] = active
}

func (f *fakeConns) Touch(connID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, connID)
	_, ok := f.owner[connID]
	return ok
}

func (f *fakeConns) SetActive(connID string, active bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.owner[connID]; !ok {
		return false
	}
	f.active[connID] = active
	return true
}

func (f *fakeConns) Info(connID string) (chat.ConnInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	uid, ok := f.owner[connID]
	if !ok {
		return chat.ConnInfo{}, false
	}
	return chat.ConnInfo{ConnID: connID, UserID: uid, Active: f.active[connID]}, true
}

func (f *fakeConns) ActiveCount(userID int64, except string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, uid := range f.owner {
		if uid == userID && id != except && f.active[id] {
			n++
		}
	}
	return n
}

type fakeIndex struct {
	joined, left []int64
}

func (f *fakeIndex) Join(_ context.Context, userID int64) error {
	f.joined = append(f.joined, userID)
	return nil
}

func (f *fakeIndex) Leave(_ context.Context, userID int64) (int64, error) {
	f.left = append(f.left, userID)
	return 0, nil
}

func expectNoLock(mock sqlmock.Sqlmock, userID int64) {
	mock.ExpectQuery("FROM user_locks").WithArgs(userID, t0).WillReturnRows(sqlmock.NewRows(lockCols))
}

func newTestService(t *testing.T, conns Connections) (*Service, sqlmock.Sqlmock) {
	db, mock := newMock(t)
	clk := clock.NewFake(t0)
	return NewService(NewStore(db, clk), NewLockStore(db), conns, clk), mock
}

func TestReportOnline(t *testing.T) {
	conns := newFakeConns()
	conns.add(7, "c1", false)
	svc, mock := newTestService(t, conns)

	expectNoLock(mock, 7)
	expectStatus(mock, 7, "offline")
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET status = $2, last_activity = $3")).
		WithArgs(int64(7), "online", t0).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := svc.Report(context.Background(), 7, "c1", model.StatusOnline, false); err != nil {
		t.Fatal(err)
	}
	if !conns.active["c1"] {
		t.Fatal("connection should be active")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestReportOnlineRejectsLockedUser(t *testing.T) {
	svc, mock := newTestService(t, nil)
	mock.ExpectQuery("FROM user_locks").WithArgs(int64(7), t0).
		WillReturnRows(sqlmock.NewRows(lockCols).AddRow(1, 7, "block", "abuse", t0, nil, "locked"))

	err := svc.Report(context.Background(), 7, "", model.StatusOnline, false)
	if !errs.ErrUserLocked.Is(err) {
		t.Fatalf("err = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestReportOfflineDefersToOtherActiveTab(t *testing.T) {
	conns := newFakeConns()
	conns.add(7, "tab-a", true)
	conns.add(7, "tab-b", true)
	svc, mock := newTestService(t, conns)

	// tab-a hides; tab-b is still active so only activity is touched
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET last_activity = $2 WHERE id = $1")).
		WithArgs(int64(7), t0).WillReturnResult(sqlmock.NewResult(0, 1))
	if err := svc.Report(context.Background(), 7, "tab-a", model.StatusOffline, false); err != nil {
		t.Fatal(err)
	}

	// tab-b hides too: now the user goes offline
	expectStatus(mock, 7, "online")
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET status = $2 WHERE id = $1")).
		WithArgs(int64(7), "offline").WillReturnResult(sqlmock.NewResult(0, 1))
	if err := svc.Report(context.Background(), 7, "tab-b", model.StatusOffline, false); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestReportIgnoresForeignConn(t *testing.T) {
	conns := newFakeConns()
	conns.add(7, "c7", true)
	conns.add(8, "c8", true)
	svc, mock := newTestService(t, conns)

	// user 8 holds another connection, but c7 is not user 8's to hide
	expectStatus(mock, 8, "online")
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET status = $2 WHERE id = $1")).
		WithArgs(int64(8), "offline").WillReturnResult(sqlmock.NewResult(0, 1))
	if err := svc.Report(context.Background(), 8, "c7", model.StatusOffline, false); err != nil {
		t.Fatal(err)
	}
	if !conns.active["c7"] {
		t.Fatal("another user's connection was marked inactive")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestHeartbeat(t *testing.T) {
	conns := newFakeConns()
	conns.add(7, "c1", true)
	svc, mock := newTestService(t, conns)

	getRow := func(status string) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, status, last_activity FROM users WHERE id = $1")).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "status", "last_activity"}).AddRow(7, status, t0))
	}

	// online: touch only
	getRow("online")
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET last_activity = $2")).
		WithArgs(int64(7), t0).WillReturnResult(sqlmock.NewResult(0, 1))
	if err := svc.Heartbeat(context.Background(), 7, "c1"); err != nil {
		t.Fatal(err)
	}

	// swept offline: heartbeat brings the user back
	getRow("offline")
	expectNoLock(mock, 7)
	expectStatus(mock, 7, "offline")
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET status = $2, last_activity = $3")).
		WithArgs(int64(7), "online", t0).WillReturnResult(sqlmock.NewResult(0, 1))
	if err := svc.Heartbeat(context.Background(), 7, "c1"); err != nil {
		t.Fatal(err)
	}

	if len(conns.touched) != 2 {
		t.Fatalf("touched = %v", conns.touched)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRegistryHooks(t *testing.T) {
	svc, mock := newTestService(t, nil)
	idx := &fakeIndex{}
	svc.SetClusterIndex(idx)

	expectStatus(mock, 7, "offline")
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET status = $2, last_activity = $3")).
		WithArgs(int64(7), "online", t0).WillReturnResult(sqlmock.NewResult(0, 1))
	expectStatus(mock, 7, "online")
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET status = $2, last_activity = $3")).
		WithArgs(int64(7), "offline", t0).WillReturnResult(sqlmock.NewResult(0, 1))

	svc.OnOnline(7)
	svc.OnOffline(7)

	if len(idx.joined) != 1 || len(idx.left) != 1 {
		t.Fatalf("index joined=%v left=%v", idx.joined, idx.left)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
