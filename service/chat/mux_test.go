package chat

import (
	"context"
	"testing"

	"PPresence/tools/errs"
)

func TestParseFrameJSON(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		event   string
		wantErr bool
	}{
		{"ok", `{"event":"heartbeat","data":{"a":1}}`, "heartbeat", false},
		{"no data", `{"event":"heartbeat"}`, "heartbeat", false},
		{"no event", `{"data":{}}`, "", true},
		{"not json", `hello`, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := ParseFrameJSON([]byte(tc.in))
			if tc.wantErr {
				if err == nil || !errs.ErrArgs.Is(err) {
					t.Fatalf("err = %v", err)
				}
				return
			}
			if err != nil || f.Event != tc.event {
				t.Fatalf("f=%+v err=%v", f, err)
			}
		})
	}
}

func TestMuxDispatchUnknown(t *testing.T) {
	m := NewHandlerMux()
	err := m.Dispatch(context.Background(), NewSession("c", 1, newFake("c")), &Frame{Event: "x"})
	if err == nil || !errs.ErrArgs.Is(err) {
		t.Fatalf("err = %v", err)
	}
}

func TestSessionReply(t *testing.T) {
	h := newFake("c")
	s := NewSession("c", 1, h)
	if err := s.Reply(EventHeartbeatAck, nil); err != nil {
		t.Fatal(err)
	}
	if evs := h.events(); len(evs) != 1 || evs[0] != EventHeartbeatAck {
		t.Fatalf("events = %v", evs)
	}
}
