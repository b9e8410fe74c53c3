package main

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.Logger = newLogger(false)

func newLogger(dev bool) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		CallerKey:    "caller",
		MessageKey:   "msg",
		LineEnding:   zapcore.DefaultLineEnding,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.CapitalLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	level := zapcore.InfoLevel
	if dev {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(os.Stderr),
		level,
	)

	return zap.New(core, zap.AddCaller())
}

// initLogger replaces the global logger once the config is known.
// Dev mode drops the threshold to Debug, matching the per-event
// join/leave logging the relay emits.
func initLogger(dev bool) {
	log = newLogger(dev)
}

func logInfo(msg string, fields ...zap.Field)  { log.Info(msg, fields...) }
func logWarn(msg string, fields ...zap.Field)  { log.Warn(msg, fields...) }
func logError(msg string, fields ...zap.Field) { log.Error(msg, fields...) }
func logDebug(msg string, fields ...zap.Field) { log.Debug(msg, fields...) }
