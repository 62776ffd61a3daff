package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/decksnap/decksnap-sync/internal/config"
	"github.com/decksnap/decksnap-sync/internal/db"
	"github.com/decksnap/decksnap-sync/internal/fabric"
	"github.com/decksnap/decksnap-sync/internal/store"
	"github.com/decksnap/decksnap-sync/internal/store/memory"
)

// MemoryFactory keeps presentations in process memory. A pool is only opened
// when the postgres fabric is selected.
type MemoryFactory struct {
	config *config.Config
	store  *memory.Store
	pool   *pgxpool.Pool
}

var _ Factory = (*MemoryFactory)(nil)

// NewMemoryFactory creates a new memory-backed storage factory
func NewMemoryFactory(ctx context.Context, cfg *config.Config) (*MemoryFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	slog.Info("Creating memory-backed storage factory")
	f := &MemoryFactory{config: cfg, store: memory.New()}

	if cfg.Fabric.Type == config.FabricTypePostgres {
		if cfg.Database == nil {
			return nil, fmt.Errorf("database configuration is required for the postgres fabric")
		}
		pool, err := db.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to create database connection pool: %w", err)
		}
		f.pool = pool
	}
	return f, nil
}

// MemoryStore returns the underlying store so callers can seed it
func (m *MemoryFactory) MemoryStore() *memory.Store {
	return m.store
}

// CreateStore returns the in-memory store. Every call returns the same instance.
func (m *MemoryFactory) CreateStore(_ context.Context) (store.Store, error) {
	slog.Debug("Creating memory-backed store")
	return m.store, nil
}

// CreateFabric creates the configured fabric
func (m *MemoryFactory) CreateFabric(ctx context.Context) (fabric.Fabric, error) {
	return newFabric(ctx, m.config.Fabric, m.pool)
}

// Cleanup closes the pool opened for the postgres fabric, if any
func (m *MemoryFactory) Cleanup() {
	if m.pool != nil {
		m.pool.Close()
	}
}
