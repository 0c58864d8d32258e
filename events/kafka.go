package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/spacemeshos/poe/logging"
)

var kafkaFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "poe",
	Subsystem: "events",
	Name:      "kafka_produce_failures_total",
	Help:      "Records the Kafka producer failed to deliver",
})

const kafkaFlushTimeout = 10 * time.Second

// Kafka produces records to a topic, keyed by fingerprint so the history
// of one claim stays in one partition. Delivery is asynchronous; failures
// are logged and counted.
type Kafka struct {
	client *kgo.Client
	topic  string
}

var _ Sink = (*Kafka)(nil)

func NewKafka(brokers []string, topic string, opts ...kgo.Opt) (*Kafka, error) {
	opts = append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
	}, opts...)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}
	return &Kafka{client: client, topic: topic}, nil
}

func (k *Kafka) Name() string {
	return "kafka"
}

func (k *Kafka) Publish(ctx context.Context, records ...Record) error {
	log := logging.FromContext(ctx)
	for _, record := range records {
		msg, err := k.message(record)
		if err != nil {
			return err
		}
		// The producer outlives the caller's context.
		k.client.Produce(context.WithoutCancel(ctx), msg, func(r *kgo.Record, err error) {
			if err != nil {
				kafkaFailures.Inc()
				log.Warn("failed to produce record", zap.String("topic", r.Topic), zap.Error(err))
			}
		})
	}
	return nil
}

func (k *Kafka) message(record Record) (*kgo.Record, error) {
	value, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", record, err)
	}
	return &kgo.Record{
		Topic: k.topic,
		Key:   record.Event.Fingerprint,
		Value: value,
	}, nil
}

// Flush waits until all produced records are delivered.
func (k *Kafka) Flush(ctx context.Context) error {
	return k.client.Flush(ctx)
}

func (k *Kafka) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), kafkaFlushTimeout)
	defer cancel()
	err := k.client.Flush(ctx)
	k.client.Close()
	if err != nil {
		return fmt.Errorf("flushing kafka producer: %w", err)
	}
	return nil
}
