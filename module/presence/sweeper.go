package presence

import (
	"context"
	"time"

	"PPresence/logger"
	"PPresence/service/metrics"
	"PPresence/tools/clock"
	"PPresence/tools/errs"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	SweeperInactivity = "inactivity"
	SweeperLockExpiry = "lock_expiry"

	sweepTimeout = 30 * time.Second
)

type SweeperConf struct {
	InactivityEvery time.Duration
	LockEvery       time.Duration
	// Threshold is read on every run so hot-reloaded values apply.
	Threshold func() time.Duration
	Clock     clock.Clock
}

// Sweeper runs the inactivity and lock-expiry sweeps on cron schedules.
// A run still in progress makes the next tick of the same sweep a no-op.
type Sweeper struct {
	store   *Store
	locks   *LockStore
	conf    SweeperConf
	metrics *metrics.Metrics
	cron    *cron.Cron
	log     *zap.Logger
}

func NewSweeper(store *Store, locks *LockStore, conf SweeperConf) *Sweeper {
	if conf.Clock == nil {
		conf.Clock = clock.Real
	}
	if conf.Threshold == nil {
		conf.Threshold = func() time.Duration { return 30 * time.Second }
	}
	cl := logger.Cron("sweeper-cron")
	return &Sweeper{
		store: store,
		locks: locks,
		conf:  conf,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log: logger.Named("sweeper"),
	}
}

func (s *Sweeper) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// Start schedules both sweeps. Stop must be called to release the scheduler.
func (s *Sweeper) Start() error {
	if s.conf.InactivityEvery <= 0 || s.conf.LockEvery <= 0 {
		return errs.ErrArgs.WrapMsg("sweeper intervals must be positive")
	}
	jobs := []struct {
		every time.Duration
		run   func(context.Context) (int64, error)
	}{
		{s.conf.InactivityEvery, s.RunInactivity},
		{s.conf.LockEvery, s.RunExpiry},
	}
	for _, j := range jobs {
		run := j.run
		if _, err := s.cron.AddFunc("@every "+j.every.String(), func() {
			ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
			defer cancel()
			_, _ = run(ctx)
		}); err != nil {
			return errs.WrapMsg(err, "schedule sweeper", "every", j.every)
		}
	}
	s.cron.Start()
	s.log.Info("sweepers started",
		zap.Duration("inactivity_every", s.conf.InactivityEvery), zap.Duration("lock_every", s.conf.LockEvery))
	return nil
}

// Stop waits for running sweeps to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// RunInactivity flips Online users without recent activity to Offline.
func (s *Sweeper) RunInactivity(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := s.store.SweepInactive(ctx, s.conf.Clock.Now(), s.conf.Threshold())
	s.finish(SweeperInactivity, n, err, start)
	return n, err
}

// RunExpiry releases locks whose unlock time has passed.
func (s *Sweeper) RunExpiry(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := s.locks.SweepExpired(ctx, s.conf.Clock.Now())
	s.finish(SweeperLockExpiry, n, err, start)
	return n, err
}

func (s *Sweeper) finish(name string, n int64, err error, start time.Time) {
	took := time.Since(start)
	if err != nil {
		s.log.Warn("sweep failed", zap.String("sweeper", name), zap.Error(err))
		return
	}
	s.metrics.Swept(name, n, took)
	if n > 0 {
		s.log.Info("sweep", zap.String("sweeper", name), zap.Int64("rows", n), zap.Duration("took", took))
	}
}
