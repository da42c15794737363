package core

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"shipment-dispatch-client/config"
)

func NewLogger(cfg config.Config) (*zap.Logger, error) {
	var writeSyncer zapcore.WriteSyncer

	if cfg.LogsDirectory == "" {
		writeSyncer = zapcore.Lock(os.Stdout)
	} else {
		if err := os.MkdirAll(cfg.LogsDirectory, 0o755); err != nil {
			return nil, fmt.Errorf("create logs directory: %w", err)
		}

		// Get the current UTC date to create a new file per run
		runTimestamp := time.Now().UTC().Format("2006-01-02T15-04-05")
		logFile := fmt.Sprintf("%v/dispatch-client-%s.log", cfg.LogsDirectory, runTimestamp)

		lumberjackLogger := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // MB before it rolls
			MaxBackups: 7,
			MaxAge:     30, // Days
			Compress:   true,
		}
		writeSyncer = zapcore.AddSync(lumberjackLogger)
	}

	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		MessageKey:   "msg",
		CallerKey:    "caller",
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.CapitalLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	})

	level := zap.InfoLevel
	if cfg.Environment == "development" {
		level = zap.DebugLevel
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logger, nil
}
