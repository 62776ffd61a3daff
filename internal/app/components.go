package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/decksnap/decksnap-sync/internal/app/storage"
	"github.com/decksnap/decksnap-sync/internal/authz"
	"github.com/decksnap/decksnap-sync/internal/fabric"
	"github.com/decksnap/decksnap-sync/internal/room"
	"github.com/decksnap/decksnap-sync/internal/store"
	pkgsync "github.com/decksnap/decksnap-sync/internal/sync"
	"github.com/decksnap/decksnap-sync/internal/telemetry"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Store holds presentations, slides and users
	Store store.Store

	// Fabric carries room broadcasts between instances
	Fabric fabric.Fabric

	// Rooms tracks the live connections of this instance
	Rooms *room.Registry

	// Sync applies inbound editing messages
	Sync *pkgsync.Handler

	// PolicyWatcher reloads auth.policyFile, nil without one
	PolicyWatcher *authz.PolicyWatcher

	Telemetry *telemetry.Telemetry
}

// close releases the components in reverse dependency order
func (c *AppComponents) close(ctx context.Context, factory storage.Factory) error {
	var errs []error
	if c.PolicyWatcher != nil {
		if err := c.PolicyWatcher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Fabric != nil {
		if err := c.Fabric.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close fabric: %w", err))
		}
	}
	if c.Store != nil {
		c.Store.Close()
	}
	if factory != nil {
		factory.Cleanup()
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
