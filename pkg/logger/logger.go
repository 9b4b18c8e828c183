package logger

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls level and file rotation. An empty Filename logs to
// stdout only.
type Config struct {
	Level      string
	Filename   string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// New builds a JSON logger writing to stdout and, if configured, a rotated
// file. The returned flush func must be called before exit.
func New(cfg Config) (*zap.Logger, func(), error) {
	var lvl zapcore.Level
	level := cfg.Level
	if level == "" {
		level = "INFO"
	}
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, err
	}

	ws, flush := writer(cfg)
	core := zapcore.NewCore(encoder(), ws, lvl)
	log := zap.New(core, zap.AddCaller())

	return log, func() {
		_ = log.Sync()
		flush()
	}, nil
}

func encoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

func writer(cfg Config) (zapcore.WriteSyncer, func()) {
	console := zapcore.AddSync(os.Stdout)
	if cfg.Filename == "" {
		return console, func() {}
	}

	rotated := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	buffered := &zapcore.BufferedWriteSyncer{
		WS:            zapcore.AddSync(rotated),
		Size:          256 * 1024,
		FlushInterval: 5 * time.Second,
	}
	return zapcore.NewMultiWriteSyncer(console, buffered), func() {
		_ = buffered.Stop()
		_ = rotated.Close()
	}
}
