// Package natsx is a small routed NATS client: business names (biz) map to
// subjects, and each route picks core pub/sub or JetStream push.
package natsx

import (
	"strings"
	"sync"
	"time"

	"PPresence/logger"
	"PPresence/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Mode 工作模式
type Mode int

const (
	Core          Mode = iota // 无持久化
	JetStreamPush             // JS 推送订阅
)

// Route 路由配置（按 Biz 维度注册）
type Route struct {
	Biz           string
	Subject       string
	Mode          Mode
	Queue         string // 队列组；广播时留空
	Durable       string // JS durable 名
	AckWait       time.Duration
	MaxAckPending int
}

type Config struct {
	Servers         []string
	Name            string
	User            string
	Password        string
	ReconnectWait   time.Duration
	Timeout         time.Duration
	PublishAsyncMax int
}

type Client struct {
	cfg Config
	nc  *nats.Conn
	js  nats.JetStreamContext

	mu     sync.RWMutex
	routes map[string]Route              // biz -> route
	subs   map[string]*nats.Subscription // biz -> sub
}

func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errs.ErrArgs.WrapMsg("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.PublishAsyncMax == 0 {
		cfg.PublishAsyncMax = 4096
	}
	log := logger.Named("nats")
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errs.WrapMsg(err, "nats connect", "servers", cfg.Servers)
	}
	return &Client{
		cfg:    cfg,
		nc:     nc,
		routes: make(map[string]Route),
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Close drains subscriptions and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for biz, sub := range c.subs {
		_ = sub.Drain()
		delete(c.subs, biz)
	}
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

func (c *Client) ensureJS() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.js != nil {
		return nil
	}
	js, err := c.nc.JetStream(nats.PublishAsyncMaxPending(c.cfg.PublishAsyncMax))
	if err != nil {
		return err
	}
	c.js = js
	return nil
}

func (c *Client) RegisterRoute(r Route) error {
	if r.Biz == "" || r.Subject == "" {
		return errs.ErrArgs.WrapMsg("invalid route", "biz", r.Biz, "subject", r.Subject)
	}
	if r.Mode == JetStreamPush {
		if err := c.ensureJS(); err != nil {
			return errs.WrapMsg(err, "init jetstream")
		}
	}
	if r.AckWait == 0 {
		r.AckWait = 30 * time.Second
	}
	if r.MaxAckPending == 0 {
		r.MaxAckPending = 1024
	}
	c.mu.Lock()
	c.routes[r.Biz] = r
	c.mu.Unlock()
	return nil
}

func (c *Client) route(biz string) (Route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[biz]
	return r, ok
}
