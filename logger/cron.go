package logger

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type cronLogger struct{ l *zap.SugaredLogger }

// Cron adapts a named zap logger to cron.Logger.
func Cron(name string) cron.Logger {
	return cronLogger{l: Named(name).Sugar()}
}

func (c cronLogger) Info(msg string, kv ...interface{}) { c.l.Debugw(msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Errorw(msg, append(kv, "error", err)...)
}
