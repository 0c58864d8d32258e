package storage

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/spacemeshos/poe/registry"
)

var cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "poe",
	Subsystem: "storage",
	Name:      "cache_requests_total",
	Help:      "Claim cache lookups by result",
}, []string{"result"})

// Cached is a read-through LRU cache in front of another store.
// The cache is updated only after the backing store accepted a write.
type Cached struct {
	registry.Store
	cache *lru.Cache
}

var _ registry.Store = (*Cached)(nil)

func NewCached(store registry.Store, size int) (*Cached, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("creating claim cache: %w", err)
	}
	return &Cached{Store: store, cache: cache}, nil
}

func (c *Cached) Get(ctx context.Context, fingerprint registry.Fingerprint) (registry.Record, error) {
	if record, ok := c.cache.Get(string(fingerprint)); ok {
		cacheRequests.WithLabelValues("hit").Inc()
		return record.(registry.Record), nil
	}
	cacheRequests.WithLabelValues("miss").Inc()

	record, err := c.Store.Get(ctx, fingerprint)
	if err != nil {
		return registry.Record{}, err
	}
	c.cache.Add(string(fingerprint), record)
	return record, nil
}

func (c *Cached) Put(ctx context.Context, fingerprint registry.Fingerprint, record registry.Record) error {
	if err := c.Store.Put(ctx, fingerprint, record); err != nil {
		c.cache.Remove(string(fingerprint))
		return err
	}
	c.cache.Add(string(fingerprint), record)
	return nil
}

func (c *Cached) Delete(ctx context.Context, fingerprint registry.Fingerprint) error {
	c.cache.Remove(string(fingerprint))
	return c.Store.Delete(ctx, fingerprint)
}

// Len returns the number of cached claims.
func (c *Cached) Len() int {
	return c.cache.Len()
}
