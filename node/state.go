package node

import (
	"context"
	"sync"

	"github.com/spacemeshos/poe/registry"
)

//go:generate mockgen -package mocks -destination mocks/node.go . State

// State is the node's bookkeeping of the timeline.
type State interface {
	// Height is the block of the last included transaction.
	Height(ctx context.Context) (registry.BlockNumber, error)
	// Nonce is the nonce expected in the next transaction of id.
	Nonce(ctx context.Context, id registry.Identity) (uint64, error)
	// Commit atomically records a new height and the caller's next nonce.
	Commit(ctx context.Context, block registry.BlockNumber, caller registry.Identity, nonce uint64) error
	Close() error
}

type memoryState struct {
	mu     sync.RWMutex
	height registry.BlockNumber
	nonces map[registry.Identity]uint64
}

func NewMemoryState() State {
	return &memoryState{nonces: make(map[registry.Identity]uint64)}
}

func (s *memoryState) Height(context.Context) (registry.BlockNumber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height, nil
}

func (s *memoryState) Nonce(_ context.Context, id registry.Identity) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nonces[id], nil
}

func (s *memoryState) Commit(_ context.Context, block registry.BlockNumber, caller registry.Identity, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height = block
	s.nonces[caller] = nonce
	return nil
}

func (s *memoryState) Close() error {
	return nil
}
