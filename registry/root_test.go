package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/poe/registry"
)

func TestStateRootIgnoresCallOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	claims := []registry.Fingerprint{{3}, {1, 2}, {1}, {0xff, 0}}

	a := newRegistry(t, 8)
	for _, fp := range claims {
		require.NoError(t, a.Create(ctx, id(1), fp, 1))
	}
	b := newRegistry(t, 8)
	for i := len(claims) - 1; i >= 0; i-- {
		require.NoError(t, b.Create(ctx, id(1), claims[i], 1))
	}

	rootA, err := a.StateRoot(ctx)
	require.NoError(t, err)
	rootB, err := b.StateRoot(ctx)
	require.NoError(t, err)
	require.Equal(t, rootA, rootB)
	require.Len(t, rootA, 32)
}

func TestStateRootTracksMutations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newRegistry(t, 8)
	require.NoError(t, r.Create(ctx, id(1), registry.Fingerprint{1}, 1))
	require.NoError(t, r.Create(ctx, id(1), registry.Fingerprint{2}, 1))

	before, err := r.StateRoot(ctx)
	require.NoError(t, err)

	require.NoError(t, r.Transfer(ctx, id(1), registry.Fingerprint{2}, id(2), 2))
	transferred, err := r.StateRoot(ctx)
	require.NoError(t, err)
	require.NotEqual(t, before, transferred)

	require.NoError(t, r.Revoke(ctx, id(2), registry.Fingerprint{2}))
	revoked, err := r.StateRoot(ctx)
	require.NoError(t, err)
	require.NotEqual(t, transferred, revoked)
	require.NotEqual(t, before, revoked)
}

func TestClaimLeafSeparatesFingerprintAndOwner(t *testing.T) {
	t.Parallel()
	record := registry.Record{Owner: id(1), RegisteredAt: 1}
	require.NotEqual(t,
		registry.ClaimLeaf(registry.Fingerprint{1}, record),
		registry.ClaimLeaf(registry.Fingerprint{1, 1}, registry.Record{RegisteredAt: 1}),
	)
}

func TestStateRootOfEmptyRegistry(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, 8)
	root, err := r.StateRoot(context.Background())
	require.NoError(t, err)
	require.Equal(t, registry.EmptyStateRoot(), root)
}
