package relay

import (
	"context"
	"strconv"

	"PPresence/logger"
	"PPresence/service/kafka"

	"go.uber.org/zap"
)

// Kafka relays through one topic. Each node consumes with its own group
// id so that every node sees every envelope.
type Kafka struct {
	client *kafka.Client
	topic  string
	group  string
	log    *zap.Logger
}

func NewKafka(cfg kafka.Config, topic, nodeID string) (*Kafka, error) {
	c, err := kafka.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	k := &Kafka{client: c, topic: topic, group: "ppresence-relay-" + nodeID, log: logger.Named("relay.kafka")}
	if admin, err := c.Admin(); err == nil {
		if err := kafka.EnsureTopics(admin, []string{topic}, cfg); err != nil {
			k.log.Warn("ensure topic", zap.String("topic", topic), zap.Error(err))
		}
	}
	return k, nil
}

func (k *Kafka) Name() string { return "kafka" }

// Publish keys by user id so envelopes for one user keep their order.
func (k *Kafka) Publish(_ context.Context, e Envelope) error {
	b, err := Encode(e)
	if err != nil {
		return err
	}
	return k.client.SendSync(k.topic, []byte(strconv.FormatInt(e.UserID, 10)), b)
}

// Subscribe starts the consumer group in the background.
func (k *Kafka) Subscribe(ctx context.Context, fn Receiver) error {
	r := kafka.NewRouter()
	r.Register(k.topic, func(ctx context.Context, _ string, _, value []byte) error {
		e, err := Decode(value)
		if err != nil {
			return err
		}
		fn(ctx, e)
		return nil
	})
	go func() {
		if err := kafka.RunConsumerGroup(ctx, k.client.Config(), k.group, r); err != nil {
			k.log.Error("consumer group stopped", zap.Error(err))
		}
	}()
	return nil
}

func (k *Kafka) Close() error { return k.client.Close() }
