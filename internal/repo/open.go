package repo

import (
	"context"
	"fmt"

	"github.com/therapycompanion/reminders/internal/config"
)

// Open connects to the configured database. Postgres schemas are managed by
// Migrate; SQLite schemas are created on open.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := NewPool(ctx, cfg.PostgresURL, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(pool), nil
	case "sqlite":
		return OpenSQLite(cfg.SQLitePath)
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}
