package events

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/spacemeshos/poe/logging"
)

var droppedRecords = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "poe",
	Subsystem: "events",
	Name:      "broker_dropped_total",
	Help:      "Records dropped because a subscriber fell behind",
})

// Broker hands records to live subscribers. Each subscriber has a bounded
// buffer; records that don't fit are dropped for that subscriber only.
type Broker struct {
	buffer int

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

var _ Sink = (*Broker)(nil)

func NewBroker(buffer int) *Broker {
	if buffer < 1 {
		buffer = 1
	}
	return &Broker{
		buffer: buffer,
		subs:   make(map[*Subscription]struct{}),
	}
}

type Subscription struct {
	broker  *Broker
	records chan Record
}

// Records is closed when the subscription or the broker is closed.
func (s *Subscription) Records() <-chan Record {
	return s.records
}

func (s *Subscription) Close() {
	s.broker.unsubscribe(s)
}

func (b *Broker) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{broker: b, records: make(chan Record, b.buffer)}
	if b.closed {
		close(sub.records)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

func (b *Broker) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.records)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broker) Name() string {
	return "broker"
}

func (b *Broker) Publish(ctx context.Context, records ...Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		for _, r := range records {
			select {
			case sub.records <- r:
			default:
				droppedRecords.Inc()
				logging.FromContext(ctx).Debug("subscriber is too slow - dropping record", zap.Stringer("record", r))
			}
		}
	}
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.records)
	}
	return nil
}
