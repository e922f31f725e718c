package relay

import (
	"context"
	"time"

	"PPresence/logger"
	"PPresence/service/dedupe"
	"PPresence/service/natsx"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const natsBiz = "presence.relay"

// NATS fans envelopes out over a core subject without a queue group, so
// every node receives every envelope.
type NATS struct {
	mgr  *natsx.Manager
	idem *dedupe.Memory
	log  *zap.Logger
}

func NewNATS(cfg natsx.Config, subject string) (*NATS, error) {
	// 重连期间可能重投，按 msg id 去重
	idem := dedupe.NewMemory(nil)
	mgr, err := natsx.NewManager(cfg, natsx.IdemMiddleware(idem, time.Minute))
	if err != nil {
		return nil, err
	}
	if err := mgr.RegisterRoute(natsx.Route{Biz: natsBiz, Subject: subject, Mode: natsx.Core}); err != nil {
		_ = mgr.Close()
		return nil, err
	}
	return &NATS{mgr: mgr, idem: idem, log: logger.Named("relay.nats")}, nil
}

func (n *NATS) Name() string { return "nats" }

func (n *NATS) Publish(ctx context.Context, e Envelope) error {
	b, err := Encode(e)
	if err != nil {
		return err
	}
	return n.mgr.PublishOnce(ctx, natsBiz, b, map[string]string{"X-Origin": e.Origin}, uuid.NewString())
}

func (n *NATS) Subscribe(ctx context.Context, fn Receiver) error {
	go n.idem.RunPurger(ctx, time.Minute)
	return n.mgr.Subscribe(natsBiz, func(_ context.Context, msg natsx.Message) error {
		e, err := Decode(msg.Data)
		if err != nil {
			n.log.Warn("bad envelope", zap.String("subject", msg.Subject), zap.Error(err))
			return nil
		}
		fn(ctx, e)
		return nil
	})
}

func (n *NATS) Close() error { return n.mgr.Close() }
