package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/poe/storage"
)

func TestChainState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	state, err := storage.NewChainState(dir)
	require.NoError(t, err)

	height, err := state.Height(ctx)
	require.NoError(t, err)
	require.Zero(t, height)
	nonce, err := state.Nonce(ctx, id(1))
	require.NoError(t, err)
	require.Zero(t, nonce)

	require.NoError(t, state.Commit(ctx, 5, id(1), 1))
	require.NoError(t, state.Commit(ctx, 6, id(2), 1))
	require.NoError(t, state.Commit(ctx, 6, id(1), 2))
	require.NoError(t, state.Close())

	state, err = storage.NewChainState(dir)
	require.NoError(t, err)
	defer state.Close()

	height, err = state.Height(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 6, height)
	nonce, err = state.Nonce(ctx, id(1))
	require.NoError(t, err)
	require.EqualValues(t, 2, nonce)
	nonce, err = state.Nonce(ctx, id(2))
	require.NoError(t, err)
	require.EqualValues(t, 1, nonce)
}
