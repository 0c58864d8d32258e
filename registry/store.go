package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned by a Store when a fingerprint has no record.
var ErrNotFound = errors.New("claim not found")

// Store persists the fingerprint to record mapping.
// Implementations return ErrNotFound (optionally wrapped) from Get for missing keys.
type Store interface {
	Get(ctx context.Context, fingerprint Fingerprint) (Record, error)
	Put(ctx context.Context, fingerprint Fingerprint, record Record) error
	Delete(ctx context.Context, fingerprint Fingerprint) error
	// Iterate calls fn for every claim in ascending fingerprint byte order.
	// Iteration stops at the first error returned by fn.
	Iterate(ctx context.Context, fn func(Fingerprint, Record) error) error
	Close() error
}

type memoryStore struct {
	mu     sync.RWMutex
	claims map[string]Record
}

// NewMemoryStore returns a Store kept in process memory.
func NewMemoryStore() Store {
	return &memoryStore{claims: make(map[string]Record)}
}

func (s *memoryStore) Get(_ context.Context, fingerprint Fingerprint) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.claims[string(fingerprint)]
	if !ok {
		return Record{}, ErrNotFound
	}
	return record, nil
}

func (s *memoryStore) Put(_ context.Context, fingerprint Fingerprint, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[string(fingerprint)] = record
	return nil
}

func (s *memoryStore) Delete(_ context.Context, fingerprint Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, string(fingerprint))
	return nil
}

func (s *memoryStore) Iterate(ctx context.Context, fn func(Fingerprint, Record) error) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.claims))
	for k := range s.claims {
		keys = append(keys, k)
	}
	records := make([]Record, len(keys))
	sort.Strings(keys)
	for i, k := range keys {
		records[i] = s.claims[k]
	}
	s.mu.RUnlock()

	for i, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(Fingerprint(k), records[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}
