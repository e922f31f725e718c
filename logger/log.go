package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Log *zap.Logger
	// helpers 用的 logger，多跳一层 caller
	helper *zap.Logger
)

func init() {
	Init("debug", "console")
}

// Init rebuilds the global logger. format is "console" or "json".
func Init(level, format string) {
	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		CallerKey:    "caller",
		MessageKey:   "msg",
		LineEnding:   zapcore.DefaultLineEnding,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.CapitalColorLevelEncoder, // 彩色等级
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	var enc zapcore.Encoder
	if strings.EqualFold(format, "json") {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), parseLevel(level))

	Log = zap.New(core, zap.AddCaller())
	helper = Log.WithOptions(zap.AddCallerSkip(1))
}

func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// L returns the global logger.
func L() *zap.Logger { return Log }

// Named returns a child logger for a component.
func Named(name string) *zap.Logger { return Log.Named(name) }

func Sync() { _ = Log.Sync() }

// 快捷方法
func Info(msg string, fields ...zap.Field) { helper.Info(msg, fields...) }
func Infof(format string, args ...interface{}) {
	helper.Info(fmt.Sprintf(format, args...))
}
func Warn(msg string, fields ...zap.Field) { helper.Warn(msg, fields...) }
func Warnf(format string, args ...interface{}) {
	helper.Warn(fmt.Sprintf(format, args...))
}
func Error(msg string, fields ...zap.Field) { helper.Error(msg, fields...) }

func Errorf(format string, args ...interface{}) {
	helper.Error(fmt.Sprintf(format, args...))
}

func Debug(msg string, fields ...zap.Field) { helper.Debug(msg, fields...) }
func Debugf(format string, args ...interface{}) {
	helper.Debug(fmt.Sprintf(format, args...))
}
