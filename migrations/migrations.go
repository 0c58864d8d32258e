// Package migrations upgrades on-disk state before the server opens it.
package migrations

import (
	"context"

	"github.com/spacemeshos/poe/logging"
	"github.com/spacemeshos/poe/server"
)

func Migrate(ctx context.Context, cfg *server.Config) error {
	ctx = logging.NewContext(ctx, logging.FromContext(ctx).Named("migrations"))
	if err := migrateDbDir(ctx, cfg); err != nil {
		return err
	}
	return nil
}
