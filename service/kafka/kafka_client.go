// Package kafka wraps sarama: one client with a sync producer, and
// consumer groups dispatching by topic to registered handlers.
package kafka

import (
	"PPresence/tools/errs"

	"github.com/Shopify/sarama"
)

type Client struct {
	cfg      Config
	client   sarama.Client
	producer sarama.SyncProducer
}

func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errs.ErrArgs.WrapMsg("kafka brokers missing")
	}
	c, err := sarama.NewClient(cfg.Brokers, BuildBaseConfig(cfg))
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka client", "brokers", cfg.Brokers)
	}
	p, err := sarama.NewSyncProducerFromClient(c)
	if err != nil {
		_ = c.Close()
		return nil, errs.WrapMsg(err, "kafka producer")
	}
	return &Client{cfg: cfg, client: c, producer: p}, nil
}

func (c *Client) Config() Config { return c.cfg }

// Admin opens a cluster admin over the same connection.
func (c *Client) Admin() (sarama.ClusterAdmin, error) {
	return sarama.NewClusterAdminFromClient(c.client)
}

// SendSync blocks until the broker acks; key picks the partition.
func (c *Client) SendSync(topic string, key, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}
	if _, _, err := c.producer.SendMessage(msg); err != nil {
		return errs.WrapMsg(err, "kafka send", "topic", topic)
	}
	return nil
}

// Close closes the producer; the admin shares and closes the client.
func (c *Client) Close() error {
	perr := c.producer.Close()
	cerr := c.client.Close()
	if perr != nil {
		return perr
	}
	if cerr == sarama.ErrClosedClient {
		return nil
	}
	return cerr
}
