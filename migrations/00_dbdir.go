package migrations

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spacemeshos/poe/server"
	"github.com/spacemeshos/poe/storage"
)

// migrateDbDir moves databases created in the data directory, before
// --dbdir was configured, to the DB directory.
func migrateDbDir(ctx context.Context, cfg *server.Config) error {
	for _, name := range server.DBNames {
		dbPath := filepath.Join(cfg.DbDir, name)
		oldDbPath := filepath.Join(cfg.DataDir, name)
		if err := storage.Migrate(ctx, dbPath, oldDbPath); err != nil {
			return fmt.Errorf("migrating %s DB %s -> %s: %w", name, oldDbPath, dbPath, err)
		}
	}
	return nil
}
