package kafka

import (
	"context"
	"time"

	"PPresence/logger"
	"PPresence/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

type ConsumerGroupHandler struct {
	router *Router
	log    *zap.Logger
}

func (h *ConsumerGroupHandler) Setup(s sarama.ConsumerGroupSession) error {
	h.log.Info("consumer group setup", zap.String("member", s.MemberID()))
	return nil
}

func (h *ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.log.Info("consumer group cleanup")
	return nil
}

// ConsumeClaim marks every message, handled or not; relay traffic is not replayed.
func (h *ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		handler, err := h.router.Get(msg.Topic)
		if err != nil {
			h.log.Warn("no handler", zap.String("topic", msg.Topic))
		} else if err := handler(session.Context(), msg.Topic, msg.Key, msg.Value); err != nil {
			h.log.Warn("handler error", zap.String("topic", msg.Topic), zap.Int64("offset", msg.Offset), zap.Error(err))
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// RunConsumerGroup consumes the router's topics until ctx is done.
func RunConsumerGroup(ctx context.Context, cfg Config, groupID string, router *Router) error {
	topics := router.Topics()
	if len(topics) == 0 {
		return errs.ErrArgs.WrapMsg("no topics registered")
	}
	group, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, BuildBaseConfig(cfg))
	if err != nil {
		return errs.WrapMsg(err, "kafka consumer group", "group", groupID)
	}
	defer group.Close()

	log := logger.Named("kafka")
	go func() {
		for err := range group.Errors() {
			log.Warn("consumer group error", zap.Error(err))
		}
	}()

	handler := &ConsumerGroupHandler{router: router, log: log}
	for {
		if err := group.Consume(ctx, topics, handler); err != nil {
			if err == sarama.ErrClosedConsumerGroup {
				return nil
			}
			log.Warn("consume error", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
