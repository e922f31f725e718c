package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"PPresence/module/chat/model"
	wschat "PPresence/service/chat"
	"PPresence/tools/clock"
	"PPresence/tools/errs"
)

const maxContentLen = 4000

// MessageService persists a direct message and pushes it to the peer.
type MessageService struct {
	store  *Store
	recon  *Reconciler
	notify Notifier
	clock  clock.Clock
}

func NewMessageService(store *Store, recon *Reconciler, notify Notifier, clk clock.Clock) *MessageService {
	if clk == nil {
		clk = clock.Real
	}
	return &MessageService{store: store, recon: recon, notify: notify, clock: clk}
}

// SendResult reports whether the recipient had a live connection.
type SendResult struct {
	Message   *model.Message `json:"message"`
	Delivered bool           `json:"delivered"`
}

func (s *MessageService) Send(ctx context.Context, convID, senderID int64, content string) (*SendResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errs.ErrArgs.WrapMsg("empty message")
	}
	if utf8.RuneCountInString(content) > maxContentLen {
		return nil, errs.ErrArgs.WrapMsg("message too long", "max", maxContentLen)
	}
	conv, err := s.store.Conversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.Has(senderID) {
		return nil, errs.ErrNoPermission.WrapMsg("not a participant", "conversation_id", convID, "user_id", senderID)
	}
	msg, err := s.store.InsertMessage(ctx, convID, senderID, content, s.clock.Now())
	if err != nil {
		return nil, err
	}

	peer := conv.Peer(senderID)
	res := &SendResult{Message: msg}
	res.Delivered = s.notify.Dispatch(ctx, peer, wschat.EventNewMessage, msg)
	s.recon.PushUnread(ctx, peer)
	return res, nil
}
