package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"PPresence/service/dedupe"
	"PPresence/service/relay"
	"PPresence/tools/clock"
)

type failingStore struct{}

func (failingStore) SeenOnce(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func (failingStore) Forget(context.Context, string) error { return errors.New("redis down") }

func newTestDispatcher(fc *clock.Fake, store dedupe.Store) (*Dispatcher, *ConnManager) {
	m := NewConnManager(ManagerConf{Clock: fc, DisableLoop: true})
	d := NewDispatcher(m, store, DispatcherConf{
		NodeID:           "n1",
		Clock:            fc,
		DedupWindow:      func() time.Duration { return time.Minute },
		ForceLogoutGrace: func() time.Duration { return 500 * time.Millisecond },
	})
	return d, m
}

func TestDispatchAbsentUser(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	d, _ := newTestDispatcher(fc, nil)
	if d.Dispatch(context.Background(), 42, EventNewMessage, map[string]int{"id": 1}) {
		t.Fatal("dispatch to absent user must return false")
	}
}

func TestDispatchDedup(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(time.Unix(0, 0))
	store := dedupe.NewMemory(fc)
	d, m := newTestDispatcher(fc, store)
	a, b := newFake("a"), newFake("b")
	m.Register(7, a)
	m.Register(7, b)

	payload := map[string]any{"conversation_id": 3, "content": "hi"}
	if !d.Dispatch(ctx, 7, EventNewMessage, payload) {
		t.Fatal("first dispatch not delivered")
	}
	if d.Dispatch(ctx, 7, EventNewMessage, payload) {
		t.Fatal("duplicate inside window delivered")
	}
	if d.Dispatch(ctx, 7, EventNewMessage, map[string]any{"conversation_id": 3, "content": "other"}) == false {
		t.Fatal("different payload suppressed")
	}
	for _, h := range []*fakeHandle{a, b} {
		if n := countEvent(h.events(), EventNewMessage); n != 2 {
			t.Fatalf("%s got %d new_message", h.id, n)
		}
	}

	fc.Advance(2 * time.Minute)
	if !d.Dispatch(ctx, 7, EventNewMessage, payload) {
		t.Fatal("dispatch after window suppressed")
	}
}

func TestDispatchDedupStoreFailsOpen(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	d, m := newTestDispatcher(fc, failingStore{})
	a := newFake("a")
	m.Register(1, a)
	for i := 0; i < 2; i++ {
		if !d.Dispatch(context.Background(), 1, EventFriendRequest, `x`) {
			// a plain string is marshalled as a JSON string
			t.Fatalf("dispatch %d not delivered", i)
		}
	}
}

func TestDispatchAllSendsFail(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	d, m := newTestDispatcher(fc, nil)
	a := newFake("a")
	a.failSend = true
	m.Register(1, a)
	if d.Dispatch(context.Background(), 1, EventNewMessage, nil) {
		t.Fatal("failed send reported delivered")
	}
}

func TestDispatchRetryAfterFailedSend(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(time.Unix(0, 0))
	d, m := newTestDispatcher(fc, dedupe.NewMemory(fc))
	a := newFake("a")
	a.failSend = true
	m.Register(1, a)

	payload := map[string]int{"id": 9}
	if d.Dispatch(ctx, 1, EventNewMessage, payload) {
		t.Fatal("failed send reported delivered")
	}

	a.mu.Lock()
	a.failSend = false
	a.mu.Unlock()
	fc.Advance(time.Second)
	if !d.Dispatch(ctx, 1, EventNewMessage, payload) {
		t.Fatal("retry after a failed send was suppressed")
	}
	if n := countEvent(a.events(), EventNewMessage); n != 1 {
		t.Fatalf("delivered %d new_message", n)
	}
	if d.Dispatch(ctx, 1, EventNewMessage, payload) {
		t.Fatal("duplicate after a delivered retry")
	}
}

func TestDispatchRawPayload(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	d, m := newTestDispatcher(fc, nil)
	a := newFake("a")
	m.Register(1, a)
	if !d.Dispatch(context.Background(), 1, EventNewMessage, json.RawMessage(`{"id":9}`)) {
		t.Fatal("raw payload not delivered")
	}
	var f Frame
	_ = json.Unmarshal(a.frames[0], &f)
	if string(f.Data) != `{"id":9}` {
		t.Fatalf("data = %s", f.Data)
	}
	if d.Dispatch(context.Background(), 1, EventNewMessage, []byte("not json")) {
		t.Fatal("invalid payload delivered")
	}
}

func TestForceDisconnect(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(time.Unix(0, 0))
	d, m := newTestDispatcher(fc, nil)
	rec := &hookRecorder{}
	m.SetHooks(rec.hooks())

	target, other := newFake("t"), newFake("o")
	m.Register(5, target)
	m.Register(6, other)

	if !d.ForceDisconnect(ctx, 5, "locked") {
		t.Fatal("force logout not pushed")
	}
	evs := target.events()
	if len(evs) == 0 || evs[0] != EventForceLogout {
		t.Fatalf("target events = %v", evs)
	}
	if countEvent(other.events(), EventGlobalForceLogout) != 1 {
		t.Fatalf("other events = %v", other.events())
	}

	// 宽限期内仍在线
	if closed, _ := target.isClosed(); closed {
		t.Fatal("closed before grace")
	}
	if len(m.Handles(5)) != 1 {
		t.Fatal("removed before grace")
	}

	fc.Advance(500 * time.Millisecond)
	if closed, code := target.isClosed(); !closed || code != CloseForceLogout {
		t.Fatalf("closed=%v code=%d", closed, code)
	}
	if len(m.Handles(5)) != 0 {
		t.Fatal("registry still holds user")
	}
	if len(rec.offline) != 1 || rec.offline[0] != 5 {
		t.Fatalf("offline hooks = %v", rec.offline)
	}
	if d.Dispatch(ctx, 5, EventNewMessage, map[string]int{"id": 1}) {
		t.Fatal("dispatch after force logout must be false")
	}
	if closed, _ := other.isClosed(); closed {
		t.Fatal("other user closed")
	}
}

func TestForceDisconnectAbsent(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	d, _ := newTestDispatcher(fc, nil)
	if d.ForceDisconnect(context.Background(), 9, "locked") {
		t.Fatal("absent user reported pushed")
	}
	if fc.Pending() != 0 {
		t.Fatal("no close timer expected")
	}
}

func TestBroadcast(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	d, m := newTestDispatcher(fc, nil)
	m.Register(1, newFake("a"))
	m.Register(2, newFake("b"))
	if n := d.Broadcast(context.Background(), "maintenance", map[string]string{"at": "soon"}); n != 2 {
		t.Fatalf("broadcast = %d", n)
	}
}

func TestDispatchRelay(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(time.Unix(0, 0))
	d, _ := newTestDispatcher(fc, nil)
	pub := &fakePublisher{}
	d.SetRelay(pub, fakeLocator{7: {"n1", "n2"}})

	if !d.Dispatch(ctx, 7, EventNewMessage, map[string]int{"id": 1}) {
		t.Fatal("relayed dispatch should report true")
	}
	if len(pub.sent) != 1 {
		t.Fatalf("published %d", len(pub.sent))
	}
	e := pub.sent[0]
	if e.Origin != "n1" || e.Kind != relay.KindDispatch || len(e.Targets) != 1 || e.Targets[0] != "n2" {
		t.Fatalf("envelope = %+v", e)
	}
	if d.Dispatch(ctx, 7, EventNewMessage, map[string]int{"id": 1}) {
		t.Fatal("duplicate relayed")
	}
	if d.Dispatch(ctx, 8, EventNewMessage, map[string]int{"id": 1}) {
		t.Fatal("user on no node must be false")
	}

	pub.err = errors.New("broker down")
	if d.Dispatch(ctx, 7, EventNewMessage, map[string]int{"id": 2}) {
		t.Fatal("failed publish must be false")
	}
	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()
	if !d.Dispatch(ctx, 7, EventNewMessage, map[string]int{"id": 2}) {
		t.Fatal("retry after a failed publish was suppressed")
	}
}

func TestReceiveFromOtherNode(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(time.Unix(0, 0))
	d, m := newTestDispatcher(fc, nil)
	a := newFake("a")
	m.Register(7, a)

	d.Receive(ctx, relay.Envelope{Origin: "n1", Kind: relay.KindDispatch, UserID: 7, Event: EventNewMessage, Data: json.RawMessage(`{}`)})
	if len(a.events()) != 0 {
		t.Fatal("own envelope delivered")
	}
	d.Receive(ctx, relay.Envelope{Origin: "n2", Targets: []string{"n3"}, Kind: relay.KindDispatch, UserID: 7, Event: EventNewMessage})
	if len(a.events()) != 0 {
		t.Fatal("envelope for another node delivered")
	}

	env := relay.Envelope{Origin: "n2", Targets: []string{"n1"}, Kind: relay.KindDispatch, UserID: 7, Event: EventNewMessage, Data: json.RawMessage(`{"id":1}`)}
	d.Receive(ctx, env)
	d.Receive(ctx, env)
	if n := countEvent(a.events(), EventNewMessage); n != 2 {
		t.Fatalf("relayed deliveries = %d", n)
	}

	d.Receive(ctx, relay.Envelope{Origin: "n2", Kind: relay.KindForceLogout, UserID: 7, Reason: "locked"})
	fc.Advance(time.Second)
	if closed, code := a.isClosed(); !closed || code != CloseForceLogout {
		t.Fatalf("closed=%v code=%d", closed, code)
	}
}

func TestStartPurge(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	store := dedupe.NewMemory(fc)
	m := NewConnManager(ManagerConf{Clock: fc, DisableLoop: true})
	d := NewDispatcher(m, store, DispatcherConf{Clock: fc, DedupPurgeEvery: time.Minute})
	m.Register(1, newFake("a"))
	d.Dispatch(context.Background(), 1, EventNewMessage, map[string]int{"id": 1})
	if store.Len() != 1 {
		t.Fatalf("len = %d", store.Len())
	}

	stop := d.StartPurge()
	fc.Advance(3 * time.Minute)
	if store.Len() != 0 {
		t.Fatalf("len after purge = %d", store.Len())
	}
	stop()
	if fc.Pending() != 0 {
		t.Fatalf("pending timers = %d", fc.Pending())
	}
}
