package chat

import (
	"encoding/json"
	"time"

	"PPresence/tools/errs"
)

// Frame is the JSON envelope on the socket in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ts    int64           `json:"ts,omitempty"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, errs.ErrArgs.WrapMsg("unmarshal frame failed", "err", err)
	}
	if f.Event == "" {
		return nil, errs.ErrArgs.WrapMsg("frame without event")
	}
	return f, nil
}

// EncodeFrame wraps already-marshalled data.
func EncodeFrame(event string, data json.RawMessage, ts time.Time) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data, Ts: ts.UnixMilli()})
}

// BuildFrame marshals payload and wraps it.
func BuildFrame(event string, payload any, ts time.Time) ([]byte, error) {
	data, err := MarshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(event, data, ts)
}

func MarshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, errs.ErrArgs.WrapMsg("payload is not valid json")
		}
		return p, nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, errs.WrapMsg(err, "marshal payload")
		}
		return b, nil
	}
}
