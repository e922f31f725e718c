package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
)

type Config struct {
	Brokers               []string
	GroupID               string
	PartitionsPerTopic    int32 // 单机=1~8
	ReplicationFactor     int16 // 单机=1；生产=3
	ProducerRetries       int
	ProducerCompression   string // none/snappy/lz4/zstd
	ConsumerInitialOffset string // newest/oldest
	Version               string // 例如 "2.1.0"
}

func DefaultConfig() Config {
	return Config{
		Brokers:               []string{"127.0.0.1:9092"},
		PartitionsPerTopic:    1,
		ReplicationFactor:     1,
		ProducerRetries:       3,
		ProducerCompression:   "snappy",
		ConsumerInitialOffset: "newest",
		Version:               "2.1.0",
	}
}

// BuildBaseConfig maps Config onto a sarama config shared by producer and consumer.
func BuildBaseConfig(c Config) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	if v, err := sarama.ParseKafkaVersion(c.Version); err == nil {
		cfg.Version = v
	}

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if c.ProducerRetries <= 0 {
		c.ProducerRetries = 1
	}
	cfg.Producer.Retry.Max = c.ProducerRetries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // Key 控制分区
	switch strings.ToLower(c.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Consumer
	switch strings.ToLower(c.ConsumerInitialOffset) {
	case "oldest":
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}
