package store

import (
	"context"
	"fmt"

	"github.com/ivlev/storyreel/internal/config"
	"github.com/ivlev/storyreel/internal/storyboard"
)

// Store persists the single session. Load returns storyboard.ErrNoSession
// when nothing has been saved yet.
type Store interface {
	Save(ctx context.Context, s *storyboard.Session) error
	Load(ctx context.Context) (*storyboard.Session, error)
	Clear(ctx context.Context) error
}

// Open picks the Store implementation named by storage.driver.
func Open(cfg config.StorageConfig, assets *Assets) (Store, error) {
	switch cfg.Driver {
	case "file", "":
		return NewFileStore(cfg.DataDir, assets), nil
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = cfg.DataDir + "/session.db"
		}
		return NewSQLStore(dsn, assets)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
