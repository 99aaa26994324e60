package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/session-service/internal/config"
	"github.com/spec-kit/session-service/internal/persistence"
	"github.com/spec-kit/session-service/internal/repository"
)

// openStore builds the credential store selected by STORE_DRIVER. The returned
// func releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Postgres.RunMigrations {
			db := pg.SQLDB()
			err := persistence.RunMigrations(ctx, db, persistence.DialectPostgres, logger)
			_ = db.Close()
			if err != nil {
				pg.Close()
				return nil, nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		return repository.NewPostgresStore(pg.PoolHandle()), pg.Close, nil

	case config.StoreDriverSQLite:
		db, err := persistence.OpenSQLite(ctx, cfg.SQLite.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		store := repository.NewSQLiteStore(db)
		return store, func() { _ = store.Close() }, nil

	case config.StoreDriverMemory:
		logger.Warn("using in-memory credential store; sessions do not survive restarts")
		store := repository.NewMemoryStore()
		return store, func() { _ = store.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
