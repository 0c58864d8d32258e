package registry

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/spacemeshos/merkle-tree"
	"github.com/zeebo/blake3"
)

// StateRoot returns the root of a merkle tree built over all claims in
// fingerprint order. Two registries holding the same claims have the same
// root regardless of the order the calls were made in.
func (r *Registry) StateRoot(ctx context.Context) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tree, err := merkle.NewTreeBuilder().
		WithHashFunc(hashStateNode).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize merkle tree: %w", err)
	}
	leaves := 0
	err = r.store.Iterate(ctx, func(fingerprint Fingerprint, record Record) error {
		leaves++
		return tree.AddLeaf(ClaimLeaf(fingerprint, record))
	})
	if err != nil {
		return nil, fmt.Errorf("building state tree: %w", err)
	}
	if leaves == 0 {
		return EmptyStateRoot(), nil
	}
	return tree.Root(), nil
}

// EmptyStateRoot is the root of a registry without claims.
func EmptyStateRoot() []byte {
	return make([]byte, blake3Size)
}

const blake3Size = 32

// ClaimLeaf is the state tree leaf committing to one claim.
func ClaimLeaf(fingerprint Fingerprint, record Record) []byte {
	var scratch [binary.MaxVarintLen64]byte
	hasher := blake3.New()
	_, _ = hasher.Write([]byte{0x00})
	_, _ = hasher.Write(scratch[:binary.PutUvarint(scratch[:], uint64(len(fingerprint)))])
	_, _ = hasher.Write(fingerprint)
	_, _ = hasher.Write(record.Owner[:])
	binary.BigEndian.PutUint64(scratch[:8], uint64(record.RegisteredAt))
	_, _ = hasher.Write(scratch[:8])
	return hasher.Sum(nil)
}

func hashStateNode(buf, lChild, rChild []byte) []byte {
	hasher := blake3.New()
	_, _ = hasher.Write([]byte{0x01})
	_, _ = hasher.Write(lChild)
	_, _ = hasher.Write(rChild)
	return hasher.Sum(buf)
}
