package pgutil

import (
	"context"
	"database/sql"
	"time"

	"PPresence/logger"
	"PPresence/tools/errs"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"go.uber.org/zap"
)

// Config represents the Postgres configuration.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MaxRetry        int
}

// ValidateAndSetDefaults validates the configuration and sets default values.
func (c *Config) ValidateAndSetDefaults() error {
	if c.DSN == "" {
		return errs.ErrArgs.WrapMsg("postgres dsn is required")
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 20
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 5
	}
	return nil
}

// Open 打开连接池并 ping，失败按线性退避重试
func Open(ctx context.Context, cfg *Config) (*sql.DB, error) {
	if err := cfg.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, errs.WrapMsg(err, "open postgres")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	for i := 1; i <= cfg.MaxRetry; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return db, nil
		}
		logger.Warn("postgres ping failed", zap.Int("attempt", i), zap.Error(err))
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(i) * 500 * time.Millisecond):
		}
	}
	_ = db.Close()
	return nil, errs.WrapMsg(err, "failed to connect to postgres", "retries", cfg.MaxRetry)
}
