package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/spacemeshos/poe/registry"
)

// Logger writes one log line per record.
type Logger struct {
	log *zap.Logger
}

var _ Sink = (*Logger)(nil)

func NewLogger(log *zap.Logger) *Logger {
	return &Logger{log: log.Named("events")}
}

func (l *Logger) Name() string {
	return "log"
}

func (l *Logger) Publish(_ context.Context, records ...Record) error {
	for _, r := range records {
		fields := []zap.Field{
			zap.Uint64("block", uint64(r.Block)),
			zap.Uint32("index", r.Index),
			zap.Stringer("fingerprint", r.Event.Fingerprint),
			zap.Stringer("owner", r.Event.Owner),
		}
		if r.Event.Receiver != (registry.Identity{}) {
			fields = append(fields, zap.Stringer("receiver", r.Event.Receiver))
		}
		l.log.Info(r.Event.Kind.String(), fields...)
	}
	return nil
}

func (l *Logger) Close() error {
	return nil
}
