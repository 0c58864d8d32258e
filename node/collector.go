package node

import (
	"context"

	"github.com/spacemeshos/poe/registry"
)

type bufferKey struct{}

type eventBuffer struct {
	events []registry.Event
}

func withBuffer(ctx context.Context, buf *eventBuffer) context.Context {
	return context.WithValue(ctx, bufferKey{}, buf)
}

// Collector returns the registry.Sink that routes events to the node
// applying the current transaction. Events emitted outside of a node
// transaction are dropped.
func Collector() registry.Sink {
	return registry.SinkFunc(func(ctx context.Context, event registry.Event) {
		if buf, ok := ctx.Value(bufferKey{}).(*eventBuffer); ok {
			buf.events = append(buf.events, event)
		}
	})
}
