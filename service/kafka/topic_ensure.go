package kafka

import (
	"errors"

	"PPresence/logger"
	"PPresence/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// EnsureTopics creates missing topics and grows partitions up to
// cfg.PartitionsPerTopic. Kafka never shrinks partitions.
func EnsureTopics(admin sarama.ClusterAdmin, topics []string, cfg Config) error {
	if cfg.PartitionsPerTopic <= 0 {
		cfg.PartitionsPerTopic = 1
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 1
	}
	minISR := "1"
	if cfg.ReplicationFactor >= 3 {
		minISR = "2"
	}
	log := logger.Named("kafka")

	for _, t := range topics {
		descs, err := admin.DescribeTopics([]string{t})
		if err != nil {
			return errs.WrapMsg(err, "describe topic", "topic", t)
		}
		exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

		if !exists {
			td := &sarama.TopicDetail{
				NumPartitions:     cfg.PartitionsPerTopic,
				ReplicationFactor: cfg.ReplicationFactor,
				ConfigEntries: map[string]*string{
					"cleanup.policy":                 strPtr("delete"),
					"retention.ms":                   strPtr("3600000"), // relay 消息只需短暂保留
					"min.insync.replicas":            strPtr(minISR),
					"unclean.leader.election.enable": strPtr("false"),
				},
			}
			if err := admin.CreateTopic(t, td, false); err != nil {
				var te *sarama.TopicError
				if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
					log.Info("topic exists (race)", zap.String("topic", t))
					continue
				}
				return errs.WrapMsg(err, "create topic", "topic", t)
			}
			log.Info("topic created", zap.String("topic", t), zap.Int32("partitions", cfg.PartitionsPerTopic))
			continue
		}

		cur := int32(len(descs[0].Partitions))
		if cfg.PartitionsPerTopic > cur {
			if err := admin.CreatePartitions(t, cfg.PartitionsPerTopic, nil, false); err != nil {
				return errs.WrapMsg(err, "expand partitions", "topic", t, "from", cur, "to", cfg.PartitionsPerTopic)
			}
			log.Info("partitions expanded", zap.String("topic", t), zap.Int32("from", cur), zap.Int32("to", cfg.PartitionsPerTopic))
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }
