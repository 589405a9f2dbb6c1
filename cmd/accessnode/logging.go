package main

import (
	"io"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the daemon's slog logger on a zap core writing to w.
// The returned level can be changed once the stored configuration is
// known; sync flushes buffered entries.
func newLogger(w io.Writer, level slog.Level) (*slog.Logger, zap.AtomicLevel, func() error) {
	atom := zap.NewAtomicLevelAt(zapLevel(level))

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(zapcore.AddSync(w)), atom)

	zl := zap.New(core)
	return slog.New(zapslog.NewHandler(core, zapslog.WithName("accessnode"))), atom, zl.Sync
}

// zapLevel maps a slog level onto zap. Levels below debug log as debug.
func zapLevel(l slog.Level) zapcore.Level {
	switch {
	case l >= slog.LevelError:
		return zapcore.ErrorLevel
	case l >= slog.LevelWarn:
		return zapcore.WarnLevel
	case l >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
