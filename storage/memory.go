package storage

import "github.com/spacemeshos/poe/registry"

// NewMemory returns a store that lives only as long as the process.
func NewMemory() registry.Store {
	return registry.NewMemoryStore()
}
