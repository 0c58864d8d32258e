package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"go.uber.org/zap"

	"github.com/spacemeshos/poe/logging"
)

// Migrate moves a LevelDB database from oldDir to targetDir.
// It copies every key in one transaction and removes oldDir afterwards.
// A missing oldDir or an in-place move is a no-op.
func Migrate(ctx context.Context, targetDir, oldDir string) error {
	log := logging.FromContext(ctx).With(zap.String("from", oldDir), zap.String("to", targetDir))
	if oldDir == targetDir {
		log.Debug("skipping in-place DB migration")
		return nil
	}

	oldDB, err := leveldb.OpenFile(oldDir, &opt.Options{ErrorIfMissing: true})
	switch {
	case os.IsNotExist(err):
		log.Debug("skipping DB migration - old DB doesn't exist")
		return nil
	case err != nil:
		return fmt.Errorf("opening old DB: %w", err)
	}
	defer oldDB.Close()

	targetDB, err := leveldb.OpenFile(targetDir, &opt.Options{ErrorIfExist: true})
	if err != nil {
		return fmt.Errorf("opening target DB: %w", err)
	}
	defer targetDB.Close()

	log.Info("migrating DB to new location")
	trans, err := targetDB.OpenTransaction()
	if err != nil {
		return fmt.Errorf("opening target DB transaction: %w", err)
	}
	iter := oldDB.NewIterator(nil, nil)
	defer iter.Release()
	keys := 0
	for iter.Next() {
		if err := trans.Put(iter.Key(), iter.Value(), nil); err != nil {
			trans.Discard()
			return fmt.Errorf("migrating key %X: %w", iter.Key(), err)
		}
		keys++
	}
	if err := iter.Error(); err != nil {
		trans.Discard()
		return fmt.Errorf("reading old DB: %w", err)
	}
	iter.Release()
	if err := trans.Commit(); err != nil {
		return fmt.Errorf("committing DB transaction: %w", err)
	}

	if err := oldDB.Close(); err != nil {
		return fmt.Errorf("closing old DB: %w", err)
	}
	if err := os.RemoveAll(oldDir); err != nil {
		return fmt.Errorf("removing old DB: %w", err)
	}
	log.Info("DB migrated", zap.Int("keys", keys))
	return nil
}
