// Package global builds the shared infrastructure from AppConfig.
package global

import (
	"context"
	"database/sql"
	"strconv"

	"PPresence/data/database/pgutil"
	"PPresence/global/config"
	"PPresence/logger"
	"PPresence/service/dedupe"
	"PPresence/service/kafka"
	"PPresence/service/metrics"
	"PPresence/service/natsx"
	"PPresence/service/relay"
	"PPresence/service/storage"
	redisx "PPresence/service/storage/redis"
	"PPresence/tools/clock"
	"PPresence/tools/errs"
	"PPresence/tools/ids"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Infra holds the long-lived clients. Close releases them in reverse order.
type Infra struct {
	Cfg      *config.AppConfig
	Tunables *config.TunableSource
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	DB     *sql.DB
	Redis  *redis.Client // nil unless redis.enabled
	Dedup  dedupe.Store
	Relay  relay.Driver          // nil when relay.driver is none
	Online *storage.OnlineIndex // nil without redis

	closers []func() error
}

func ConfigLogger(cfg *config.AppConfig) {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
}

func ConfigIds(cfg *config.AppConfig) {
	ids.SetNodeID(cfg.NodeID)
}

func NodeKey(cfg *config.AppConfig) string {
	if cfg.NodeName != "" {
		return cfg.NodeName
	}
	return strconv.FormatInt(cfg.NodeID, 10)
}

func ConfigPostgres(ctx context.Context, cfg *config.AppConfig) (*sql.DB, error) {
	return pgutil.Open(ctx, &pgutil.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
}

func ConfigRedis(ctx context.Context, cfg *config.AppConfig) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	return redisx.NewClient(ctx, redisx.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
}

// ConfigRelay opens the cluster relay driver named by relay.driver.
func ConfigRelay(cfg *config.AppConfig, rdb *redis.Client) (relay.Driver, error) {
	rc := cfg.Relay
	switch rc.Driver {
	case "", "none":
		return nil, nil
	case "nats":
		return relay.NewNATS(natsx.Config{
			Servers:       rc.NATS.Servers,
			Name:          rc.NATS.Name + "-" + NodeKey(cfg),
			ReconnectWait: rc.NATS.ReconnectWait,
			Timeout:       rc.NATS.Timeout,
		}, rc.Subject)
	case "kafka":
		kc := kafka.DefaultConfig()
		kc.Brokers = rc.Kafka.Brokers
		if rc.Kafka.Version != "" {
			kc.Version = rc.Kafka.Version
		}
		return relay.NewKafka(kc, rc.Subject, NodeKey(cfg))
	case "redis":
		if rdb == nil {
			return nil, errs.ErrArgs.WrapMsg("redis relay needs redis.enabled")
		}
		return relay.NewRedis(rdb, rc.Subject), nil
	}
	return nil, errs.ErrArgs.WrapMsg("unknown relay driver", "driver", rc.Driver)
}

// Boot opens everything serve needs. On error the already opened parts
// are closed.
func Boot(ctx context.Context, cfg *config.AppConfig) (inf *Infra, err error) {
	ConfigLogger(cfg)
	ConfigIds(cfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	inf = &Infra{
		Cfg:      cfg,
		Tunables: config.NewTunableSource(cfg),
		Metrics:  metrics.New(reg),
		Registry: reg,
	}
	defer func() {
		if err != nil {
			inf.Close()
			inf = nil
		}
	}()

	if inf.DB, err = ConfigPostgres(ctx, cfg); err != nil {
		return inf, err
	}
	inf.closers = append(inf.closers, inf.DB.Close)

	if inf.Redis, err = ConfigRedis(ctx, cfg); err != nil {
		return inf, err
	}
	if inf.Redis != nil {
		inf.closers = append(inf.closers, inf.Redis.Close)
		if inf.Online, err = storage.NewOnlineIndex(inf.Redis, storage.OnlineConfig{
			NodeID: NodeKey(cfg),
			TTL:    3 * cfg.WS.SweepEvery,
		}); err != nil {
			return inf, err
		}
	}

	if cfg.Dispatch.DedupBackend == "redis" {
		inf.Dedup = dedupe.NewRedis(inf.Redis, "pp:dd:")
	} else {
		inf.Dedup = dedupe.NewMemory(clock.Real)
	}

	drv, err := ConfigRelay(cfg, inf.Redis)
	if err != nil {
		return inf, err
	}
	if drv != nil {
		inf.Relay = relay.WithMetrics(drv, inf.Metrics)
		inf.closers = append(inf.closers, inf.Relay.Close)
	}

	logger.Info("infra ready", zap.Stringer("config", cfg))
	return inf, nil
}

func (i *Infra) Close() {
	for k := len(i.closers) - 1; k >= 0; k-- {
		if err := i.closers[k](); err != nil {
			logger.Warn("close infra", zap.Error(err))
		}
	}
	i.closers = nil
}
