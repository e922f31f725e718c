package chat

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type fakeLocks map[int64]string

func (f fakeLocks) IsLocked(_ context.Context, userID int64) (bool, string, error) {
	r, ok := f[userID]
	return ok, r, nil
}

type pingHandler struct{ got chan int64 }

func (h *pingHandler) Event() string { return "ping" }

func (h *pingHandler) Handle(_ context.Context, s *Session, _ json.RawMessage) error {
	h.got <- s.UserID
	return s.Reply("pong", map[string]string{"conn_id": s.ConnID})
}

func startWS(t *testing.T, locks LockChecker) (*httptest.Server, *ConnManager, *pingHandler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := NewConnManager(ManagerConf{DisableLoop: true})
	ph := &pingHandler{got: make(chan int64, 1)}
	mux := NewHandlerMux()
	mux.Register(ph)
	srv := NewServer(ServerConf{PingInterval: time.Second}, reg, mux)
	if locks != nil {
		srv.SetLockChecker(locks)
	}
	r := gin.New()
	r.GET("/ws", srv.HandleWS)
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		reg.Close()
		ts.Close()
	})
	return ts, reg, ph
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?" + query
	c, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) Frame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("frame: %v", err)
	}
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestHandleWSConnectAndEvents(t *testing.T) {
	ts, reg, ph := startWS(t, nil)
	c := dial(t, ts, "user_id=7")

	f := readFrame(t, c)
	if f.Event != EventConnected {
		t.Fatalf("first frame = %s", f.Event)
	}
	var cp ConnectedPayload
	_ = json.Unmarshal(f.Data, &cp)
	if cp.UserID != 7 || cp.ConnID == "" {
		t.Fatalf("connected = %+v", cp)
	}
	if len(reg.Handles(7)) != 1 {
		t.Fatal("not registered")
	}

	_ = c.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping","data":{}}`))
	select {
	case uid := <-ph.got:
		if uid != 7 {
			t.Fatalf("uid = %d", uid)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("handler not called")
	}
	if f := readFrame(t, c); f.Event != "pong" {
		t.Fatalf("reply = %s", f.Event)
	}

	_ = c.WriteMessage(websocket.TextMessage, []byte(`{"event":"nope"}`))
	if f := readFrame(t, c); f.Event != EventError {
		t.Fatalf("unknown event reply = %s", f.Event)
	}

	d := NewDispatcher(reg, nil, DispatcherConf{})
	if !d.Dispatch(context.Background(), 7, EventNewMessage, map[string]int{"id": 1}) {
		t.Fatal("dispatch to live socket failed")
	}
	if f := readFrame(t, c); f.Event != EventNewMessage {
		t.Fatalf("pushed = %s", f.Event)
	}

	_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	waitFor(t, func() bool { return len(reg.Handles(7)) == 0 })
}

func TestHandleWSBadUserID(t *testing.T) {
	ts, _, _ := startWS(t, nil)
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?user_id=abc"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Fatalf("resp = %v", resp)
	}
}

func TestHandleWSLockedUser(t *testing.T) {
	ts, reg, _ := startWS(t, fakeLocks{9: "spam"})
	c := dial(t, ts, "user_id=9")

	f := readFrame(t, c)
	if f.Event != EventForceLogout {
		t.Fatalf("frame = %s", f.Event)
	}
	var p ForceLogoutPayload
	_ = json.Unmarshal(f.Data, &p)
	if p.Reason != "spam" {
		t.Fatalf("reason = %q", p.Reason)
	}

	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, CloseLocked) {
		t.Fatalf("err = %v", err)
	}
	if len(reg.Handles(9)) != 0 {
		t.Fatal("locked user registered")
	}
}

func TestHandleWSForceDisconnect(t *testing.T) {
	ts, reg, _ := startWS(t, nil)
	c := dial(t, ts, "user_id=5")
	readFrame(t, c) // connected

	d := NewDispatcher(reg, nil, DispatcherConf{ForceLogoutGrace: func() time.Duration { return 50 * time.Millisecond }})
	if !d.ForceDisconnect(context.Background(), 5, "locked") {
		t.Fatal("not pushed")
	}
	if f := readFrame(t, c); f.Event != EventForceLogout {
		t.Fatalf("frame = %s", f.Event)
	}
	if f := readFrame(t, c); f.Event != EventGlobalForceLogout {
		t.Fatalf("frame = %s", f.Event)
	}
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, CloseForceLogout) {
		t.Fatalf("err = %v", err)
	}
	waitFor(t, func() bool { return len(reg.Handles(5)) == 0 })
}
