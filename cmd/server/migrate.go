package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/soaringjerry/imagechat/internal/config"
	"github.com/soaringjerry/imagechat/internal/db"
)

// openStore opens the database, applies pending migrations and seeds an empty mock pool.
// It returns the store and the number of mock images available.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*db.SQLiteStore, int, error) {
	sqlDB, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, 0, err
	}
	if err := db.RunMigrations(ctx, sqlDB, cfg.Database.MigrationsDir); err != nil {
		_ = sqlDB.Close()
		return nil, 0, errors.Wrap(err, "run migrations")
	}
	store, err := db.NewSQLiteStore(sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, 0, err
	}
	n, err := db.SeedMockPool(ctx, store, cfg.Chat.MockDir, logger)
	if err != nil {
		_ = store.Close()
		return nil, 0, errors.Wrap(err, "seed mock pool")
	}
	logger.Info().Str("db", cfg.Database.Path).Int("mock_images", n).Msg("store ready")
	return store, n, nil
}
