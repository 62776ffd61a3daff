// Package storage creates the store and broadcast fabric as a compatible family.
// Both may share one PostgreSQL connection pool, which the factory owns.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/decksnap/decksnap-sync/internal/config"
	"github.com/decksnap/decksnap-sync/internal/fabric"
	"github.com/decksnap/decksnap-sync/internal/store"
)

// Factory creates storage-dependent components.
//
// The factory encapsulates the creation of:
// - Store: presentations, slides and users
// - Fabric: cross-instance room broadcasts
//
// It also manages the lifecycle of shared resources such as the database pool.
type Factory interface {
	// CreateStore creates the presentation store
	CreateStore(ctx context.Context) (store.Store, error)

	// CreateFabric creates the broadcast fabric selected by fabric.type
	CreateFabric(ctx context.Context) (fabric.Fabric, error)

	// Cleanup releases any resources held by this factory.
	// Should be called after the store and fabric are closed.
	Cleanup()
}

// NewStorageFactory creates a storage factory based on the configured storage type.
func NewStorageFactory(ctx context.Context, cfg *config.Config, opts ...DatabaseFactoryOption) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	switch cfg.Storage.Type {
	case config.StorageTypeDatabase:
		return NewDatabaseFactory(ctx, cfg, opts...)
	case config.StorageTypeMemory, "":
		return NewMemoryFactory(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}
}

// newFabric builds the fabric selected by cfg. pool is required for the postgres fabric.
func newFabric(ctx context.Context, cfg config.FabricConfig, pool *pgxpool.Pool) (fabric.Fabric, error) {
	switch cfg.Type {
	case config.FabricTypeMemory, "":
		slog.Info("Using in-process broadcast fabric")
		return fabric.NewMemory(), nil

	case config.FabricTypeRedis:
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis configuration is required for the redis fabric")
		}
		password, err := cfg.Redis.GetPassword()
		if err != nil {
			return nil, err
		}
		f, err := fabric.NewRedis(ctx, fabric.WithRedisAddress(cfg.Redis.Address, password, cfg.Redis.DB))
		if err != nil {
			return nil, fmt.Errorf("failed to create redis fabric: %w", err)
		}
		slog.Info("Using redis broadcast fabric", "address", cfg.Redis.Address, "db", cfg.Redis.DB)
		return f, nil

	case config.FabricTypePostgres:
		if pool == nil {
			return nil, fmt.Errorf("database configuration is required for the postgres fabric")
		}
		f, err := fabric.NewPostgres(ctx, pool)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres fabric: %w", err)
		}
		slog.Info("Using postgres broadcast fabric")
		return f, nil

	default:
		return nil, fmt.Errorf("unknown fabric type: %s", cfg.Type)
	}
}
