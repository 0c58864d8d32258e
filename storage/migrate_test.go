package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/poe/registry"
	"github.com/spacemeshos/poe/storage"
)

func populate(t *testing.T, dir string) map[string]registry.Record {
	t.Helper()
	claims := map[string]registry.Record{
		string([]byte{1}):    {Owner: id(1), RegisteredAt: 1},
		string([]byte{2, 3}): {Owner: id(2), RegisteredAt: 2},
	}
	store, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	for fp, record := range claims {
		require.NoError(t, store.Put(context.Background(), registry.Fingerprint(fp), record))
	}
	require.NoError(t, store.Close())
	return claims
}

func requireClaims(t *testing.T, dir string, claims map[string]registry.Record) {
	t.Helper()
	store, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer store.Close()
	for fp, record := range claims {
		got, err := store.Get(context.Background(), registry.Fingerprint(fp))
		require.NoError(t, err)
		require.Equal(t, record, got)
	}
}

func TestMigrateDB(t *testing.T) {
	oldDir := t.TempDir()
	claims := populate(t, oldDir)

	newDir := t.TempDir()
	require.NoError(t, storage.Migrate(context.Background(), newDir, oldDir))
	requireClaims(t, newDir, claims)

	_, err := os.Stat(oldDir)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSkipMigrateInPlace(t *testing.T) {
	dir := t.TempDir()
	claims := populate(t, dir)

	require.NoError(t, storage.Migrate(context.Background(), dir, dir))
	requireClaims(t, dir, claims)
}

func TestSkipMigrateSrcDoesntExist(t *testing.T) {
	newDir := t.TempDir()
	require.NoError(t, storage.Migrate(context.Background(), newDir, filepath.Join(t.TempDir(), "missing")))

	entries, err := os.ReadDir(newDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
