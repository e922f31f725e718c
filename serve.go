package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"PPresence/global"
	"PPresence/global/config"
	"PPresence/logger"
	"PPresence/middleware"
	midsec "PPresence/middleware/security"
	chatmod "PPresence/module/chat"
	"PPresence/module/presence"
	"PPresence/service/chat"
	"PPresence/service/chat/handlers"
	"PPresence/service/nacos"
	"PPresence/tools/apiresp"
	"PPresence/tools/clock"
	"PPresence/tools/errs"
	"PPresence/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func buildServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket gateway, presence HTTP API and sweepers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

// app is everything serve wires together; built by newApp, driven by run.
type app struct {
	cfg   *config.AppConfig
	inf   *global.Infra
	clk   clock.Clock
	conns *chat.ConnManager
	disp  *chat.Dispatcher
	ws    *chat.Server

	presence *presence.Service
	locks    *presence.LockService
	sweeper  *presence.Sweeper
	chain    *middleware.Chain
	engine   *gin.Engine
}

func newApp(cfg *config.AppConfig, inf *global.Infra) *app {
	a := &app{cfg: cfg, inf: inf, clk: clock.Real}
	tun := inf.Tunables

	a.conns = chat.NewConnManager(chat.ManagerConf{IdleTTL: cfg.WS.IdleTTL, SweepEvery: cfg.WS.SweepEvery})
	a.conns.SetMetrics(inf.Metrics)

	a.disp = chat.NewDispatcher(a.conns, inf.Dedup, chat.DispatcherConf{
		NodeID:           global.NodeKey(cfg),
		DedupWindow:      func() time.Duration { return tun.Get().DedupWindow },
		ForceLogoutGrace: func() time.Duration { return tun.Get().ForceLogoutGrace },
		DedupPurgeEvery:  cfg.Dispatch.DedupPurgeEvery,
	})
	a.disp.SetMetrics(inf.Metrics)
	if inf.Relay != nil {
		if inf.Online != nil {
			a.disp.SetRelay(inf.Relay, inf.Online)
		} else {
			a.disp.SetRelay(inf.Relay, nil)
		}
	}

	store := presence.NewStore(inf.DB, a.clk)
	lockStore := presence.NewLockStore(inf.DB)
	a.presence = presence.NewService(store, lockStore, a.conns, a.clk)
	a.presence.SetMetrics(inf.Metrics)
	if inf.Online != nil {
		a.presence.SetClusterIndex(inf.Online)
	}
	a.locks = presence.NewLockService(lockStore, store, a.disp, a.clk)
	a.conns.SetHooks(chat.Hooks{OnOnline: a.presence.OnOnline, OnOffline: a.presence.OnOffline})

	a.sweeper = presence.NewSweeper(store, lockStore, presence.SweeperConf{
		InactivityEvery: cfg.Presence.InactivitySweepEvery,
		LockEvery:       cfg.Presence.LockSweepEvery,
		Threshold:       func() time.Duration { return tun.Get().InactivityThreshold },
	})
	a.sweeper.SetMetrics(inf.Metrics)

	mux := chat.NewHandlerMux()
	mux.Register(handlers.NewHeartbeatHandler(a.presence))
	mux.Register(handlers.NewStatusHandler(a.presence))
	a.ws = chat.NewServer(chat.ServerConf{
		PingInterval:      cfg.WS.PingInterval,
		WriteWait:         cfg.WS.WriteWait,
		IdleTTL:           cfg.WS.IdleTTL,
		SendQueue:         cfg.WS.SendQueue,
		MaxMessageSize:    cfg.WS.MaxMessageSize,
		AllowedOrigins:    cfg.WS.AllowedOrigins,
		RequireToken:      cfg.JWT.RequireForWS,
		HeartbeatInterval: cfg.Presence.HeartbeatInterval,
	}, a.conns, mux)
	a.ws.SetLockChecker(a.locks)

	auth := midsec.DefaultOptions([]byte(cfg.JWT.Secret))
	if cfg.JWT.Alg != "" {
		auth.JWT.Alg = cfg.JWT.Alg
	}
	if cfg.JWT.TTL > 0 {
		auth.JWT.TTL = cfg.JWT.TTL
	}
	if cfg.JWT.Secret != "" {
		wsAuth := *auth
		wsAuth.AllowQuery = true
		a.ws.SetAuth(&wsAuth)
	}

	cstore := chatmod.NewStore(inf.DB)
	recon := chatmod.NewReconciler(cstore, a.disp, a.clk)
	msgs := chatmod.NewMessageService(cstore, recon, a.disp, a.clk)
	friends := chatmod.NewFriendNotifier(cstore, a.disp, a.clk)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	a.chain = middleware.NewChain()
	a.chain.Set("recovery", middleware.Recovery())
	a.chain.Set("access", middleware.AccessLog())
	a.chain.Set("origin", middleware.Origin(cfg.WS.AllowedOrigins))
	r := gin.New()
	r.Use(a.chain.Handler())
	r.GET("/ws", a.ws.HandleWS)
	r.GET("/healthz", a.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(inf.Registry, promhttp.HandlerOpts{})))

	rt := middleware.NewRouter(r, auth, cfg.Server.InternalKey)
	presence.NewHandler(a.presence, a.locks).Register(rt)
	chatmod.NewHandler(recon, msgs, friends, a.disp).Register(rt)
	a.engine = r
	return a
}

func (a *app) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := a.inf.DB.PingContext(ctx); err != nil {
		apiresp.Fail(c, errs.WrapMsg(err, "postgres unreachable"))
		return
	}
	conns, users := a.conns.Count()
	apiresp.OK(c, gin.H{"node": global.NodeKey(a.cfg), "connections": conns, "users": users})
}

func runServe(ctx context.Context, cfg *config.AppConfig) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	inf, err := global.Boot(ctx, cfg)
	if err != nil {
		return err
	}
	defer inf.Close()

	a := newApp(cfg, inf)
	return a.run(ctx)
}

func (a *app) run(ctx context.Context) error {
	cfg := a.cfg
	log := logger.Named("serve")

	if err := a.sweeper.Start(); err != nil {
		return err
	}
	defer a.sweeper.Stop()

	stopPurge := a.disp.StartPurge()
	defer stopPurge()

	if a.inf.Relay != nil {
		safe.Go("relay-subscribe", func() {
			if err := a.inf.Relay.Subscribe(ctx, a.disp.Receive); err != nil {
				log.Error("relay subscribe stopped", zap.String("driver", a.inf.Relay.Name()), zap.Error(err))
			}
		})
	}
	if a.inf.Online != nil {
		safe.Go("online-refresher", func() { a.inf.Online.RunRefresher(ctx, a.conns.Users) })
	}

	if cfg.Nacos.Enabled {
		dereg, err := a.startNacos(ctx)
		if err != nil {
			return err
		}
		defer dereg()
	}

	grpcSrv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	if cfg.Server.GRPCPort > 0 {
		lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Server.GRPCPort))
		if err != nil {
			return errs.WrapMsg(err, "listen grpc", "port", cfg.Server.GRPCPort)
		}
		safe.Go("grpc", func() {
			if err := grpcSrv.Serve(lis); err != nil {
				log.Error("grpc server stopped", zap.Error(err))
			}
		})
		log.Info("grpc health listening", zap.Int("port", cfg.Server.GRPCPort))
	}

	httpSrv := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: a.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	safe.Go("http", func() {
		log.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	})

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		log.Error("http server failed", zap.Error(runErr))
	}

	hs.Shutdown()
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	a.conns.Close()
	return runErr
}

// startNacos begins hot reload of tunables and registers this node. The
// returned func deregisters it.
func (a *app) startNacos(ctx context.Context) (func(), error) {
	nc := a.cfg.Nacos
	conf := nacos.Config{
		Host:        nc.Host,
		Port:        nc.Port,
		NamespaceID: nc.NamespaceID,
		Username:    nc.Username,
		Password:    nc.Password,
		LogDir:      nc.LogDir,
		CacheDir:    nc.CacheDir,
	}
	log := logger.Named("nacos")

	cc, err := nacos.NewConfigClient(conf)
	if err != nil {
		return nil, err
	}
	w := nacos.NewWatcher(cc, nc.DataID, nc.Group, func(data string) error {
		t, err := a.inf.Tunables.Apply(data)
		if err != nil {
			return err
		}
		log.Info("tunables updated",
			zap.Duration("inactivity_threshold", t.InactivityThreshold),
			zap.Duration("heartbeat_interval", t.HeartbeatInterval),
			zap.Duration("dedup_window", t.DedupWindow),
			zap.Duration("force_logout_grace", t.ForceLogoutGrace))
		return nil
	})
	if err := w.Start(ctx); err != nil {
		return nil, err
	}

	naming, err := nacos.NewNamingClient(conf)
	if err != nil {
		return nil, err
	}
	port, err := httpPort(a.cfg.Server.HTTPAddr)
	if err != nil {
		return nil, err
	}
	ip := nc.RegisterIP
	if ip == "" {
		if ip, err = outboundIP(); err != nil {
			return nil, err
		}
	}
	reg := nacos.NewRegistry(naming, nc.ServiceName, ip, port)
	reg.Group = nc.Group
	for k, v := range nc.Metadata {
		reg.Metadata[k] = v
	}
	reg.Metadata["node"] = global.NodeKey(a.cfg)
	reg.Metadata["relay"] = a.cfg.Relay.Driver
	if err := reg.Register(); err != nil {
		return nil, err
	}
	return func() {
		if err := reg.Deregister(); err != nil {
			log.Warn("deregister", zap.Error(err))
		}
	}, nil
}

func httpPort(addr string) (uint64, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, errs.ErrArgs.WrapMsg("bad http_addr", "addr", addr)
	}
	port, err := strconv.ParseUint(p, 10, 16)
	if err != nil {
		return 0, errs.ErrArgs.WrapMsg("bad http port", "addr", addr)
	}
	return port, nil
}

func outboundIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", errs.WrapMsg(err, "list interface addrs")
	}
	for _, a := range addrs {
		if n, ok := a.(*net.IPNet); ok && !n.IP.IsLoopback() && n.IP.To4() != nil {
			return n.IP.String(), nil
		}
	}
	return "", errs.ErrArgs.WrapMsg("no usable ip for nacos registration, set nacos.register_ip")
}
