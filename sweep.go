package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PPresence/global"
	"PPresence/logger"
	"PPresence/module/presence"
	"PPresence/tools/clock"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// buildSweepCmd runs the presence sweepers without the gateway, for
// deployments that keep exactly one sweeping process.
func buildSweepCmd(flags *rootFlags) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the inactivity and lock-expiry sweepers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			global.ConfigLogger(cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := global.ConfigPostgres(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			tun := cfg.Tunables()
			sw := presence.NewSweeper(presence.NewStore(db, clock.Real), presence.NewLockStore(db), presence.SweeperConf{
				InactivityEvery: cfg.Presence.InactivitySweepEvery,
				LockEvery:       cfg.Presence.LockSweepEvery,
				Threshold:       func() time.Duration { return tun.InactivityThreshold },
			})
			if once {
				return sweepOnce(ctx, sw)
			}
			if err := sw.Start(); err != nil {
				return err
			}
			<-ctx.Done()
			sw.Stop()
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run each sweeper once and exit")
	return cmd
}

func sweepOnce(ctx context.Context, sw *presence.Sweeper) error {
	offline, err := sw.RunInactivity(ctx)
	if err != nil {
		return err
	}
	expired, err := sw.RunExpiry(ctx)
	if err != nil {
		return err
	}
	logger.Info("sweep done", zap.Int64("marked_offline", offline), zap.Int64("locks_expired", expired))
	return nil
}
