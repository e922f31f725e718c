package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"PPresence/service/relay"
)

type fakeHandle struct {
	id string

	mu        sync.Mutex
	frames    [][]byte
	closed    bool
	closeCode int
	failSend  bool
}

func newFake(id string) *fakeHandle { return &fakeHandle{id: id} }

func (f *fakeHandle) ID() string { return f.id }

func (f *fakeHandle) Send(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClientClosed
	}
	if f.failSend {
		return errors.New("send failed")
	}
	f.frames = append(f.frames, b)
	return nil
}

func (f *fakeHandle) Close(code int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed, f.closeCode = true, code
	}
	return nil
}

func (f *fakeHandle) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, b := range f.frames {
		var fr Frame
		_ = json.Unmarshal(b, &fr)
		out = append(out, fr.Event)
	}
	return out
}

func (f *fakeHandle) isClosed() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.closeCode
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []relay.Envelope
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, e relay.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, e)
	return nil
}

type fakeLocator map[int64][]string

func (l fakeLocator) NodesOf(_ context.Context, userID int64) ([]string, error) {
	return l[userID], nil
}

func countEvent(evs []string, name string) int {
	n := 0
	for _, e := range evs {
		if e == name {
			n++
		}
	}
	return n
}
