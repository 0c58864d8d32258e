package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerKey struct{}

func NewContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey{}, logger)
}

// FromContext returns the logger stored in ctx.
// A no-op logger is returned when ctx carries none so that library code
// never writes to stdout on its own.
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(LoggerKey{}).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// FileConfig controls rotation of the log file.
// A zero MaxFiles keeps every rotated file.
type FileConfig struct {
	Path     string
	MaxFiles int
	MaxSize  int // megabytes
}

func New(level zapcore.LevelEnabler, file FileConfig, json bool) *zap.Logger {
	var encoder zapcore.Encoder
	if json {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)}
	if file.Path != "" {
		rotated := &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    file.MaxSize,
			MaxBackups: file.MaxFiles,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotated), zap.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...))
}
