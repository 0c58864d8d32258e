package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var redisPublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "poe",
	Subsystem: "events",
	Name:      "redis_publish_duration_seconds",
	Help:      "Latency of publishing a batch of records to Redis",
	Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
}, []string{"result"})

// Redis publishes records as JSON on a Redis pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
}

var _ Sink = (*Redis)(nil)

// NewRedis connects to the server at url (redis://host:port/db).
func NewRedis(ctx context.Context, url, channel string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedisFromClient(client, channel), nil
}

func NewRedisFromClient(client *redis.Client, channel string) *Redis {
	return &Redis{client: client, channel: channel}
}

func (r *Redis) Name() string {
	return "redis"
}

func (r *Redis) Publish(ctx context.Context, records ...Record) error {
	pipe := r.client.Pipeline()
	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", record, err)
		}
		pipe.Publish(ctx, r.channel, data)
	}
	start := time.Now()
	_, err := pipe.Exec(ctx)
	result := "ok"
	if err != nil {
		result = "error"
	}
	redisPublishDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", r.channel, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
