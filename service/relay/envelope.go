// Package relay carries dispatches between presence nodes so that a user
// connected to another node can still be reached.
package relay

import (
	"context"
	"encoding/json"
)

const (
	KindDispatch    = "dispatch"
	KindForceLogout = "force_logout"
	KindBroadcast   = "broadcast"
)

// Envelope is the cross-node message.
type Envelope struct {
	Origin  string          `json:"origin"`
	Kind    string          `json:"kind"`
	Targets []string        `json:"targets,omitempty"` // 空表示所有节点
	UserID  int64           `json:"user_id,omitempty"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Ts      int64           `json:"ts"`
}

// For reports whether node should handle e.
func (e *Envelope) For(node string) bool {
	if e.Origin == node {
		return false
	}
	if len(e.Targets) == 0 {
		return true
	}
	for _, t := range e.Targets {
		if t == node {
			return true
		}
	}
	return false
}

func Encode(e Envelope) ([]byte, error) { return json.Marshal(e) }

func Decode(b []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(b, &e)
	return e, err
}

type Publisher interface {
	Publish(ctx context.Context, e Envelope) error
}

// Receiver handles one inbound envelope.
type Receiver func(ctx context.Context, e Envelope)

// Driver is a transport for envelopes.
type Driver interface {
	Publisher
	// Subscribe delivers envelopes to fn until ctx is done or Close is called.
	Subscribe(ctx context.Context, fn Receiver) error
	Name() string
	Close() error
}
