// Package store defines the persistence boundary of the sync server.
// Implementations must apply every versioned mutation as a single compare-and-set
// so that two writers presenting the same base version can never both succeed.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/decksnap/decksnap-sync/internal/model"
)

var (
	// ErrNotFound is returned when the requested entity does not exist within the document
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when the expected version does not match the stored one
	ErrVersionConflict = errors.New("version conflict")
	// ErrInvalidReorder is returned when a reorder references foreign slides or leaves gaps
	ErrInvalidReorder = errors.New("invalid reorder")
)

// ConflictError carries the authoritative state of an entity whose version did not match.
type ConflictError struct {
	// Current is *model.Slide or *model.Presentation
	Current any
	Version int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: current version is %d", ErrVersionConflict, e.Version)
}

// Unwrap makes errors.Is(err, ErrVersionConflict) hold
func (*ConflictError) Unwrap() error { return ErrVersionConflict }

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

// Store is the persistence interface used by the sync handler, the authenticator and the authorizer.
type Store interface {
	// Ping checks the store is reachable
	Ping(ctx context.Context) error

	// LoadDocument returns the presentation and its slides ordered by position
	LoadDocument(ctx context.Context, presentationID uuid.UUID) (*model.Document, error)

	// GetPresentation returns a presentation by id
	GetPresentation(ctx context.Context, presentationID uuid.UUID) (*model.Presentation, error)

	// GetSlide returns a slide scoped to its presentation
	GetSlide(ctx context.Context, presentationID, slideID uuid.UUID) (*model.Slide, error)

	// UpdateSlide applies changes if the stored version equals expectedVersion and bumps it by one.
	// On mismatch it returns a *ConflictError holding the current slide.
	UpdateSlide(
		ctx context.Context, presentationID, slideID uuid.UUID, expectedVersion int, changes model.Changes,
	) (*model.Slide, error)

	// UpdatePresentation applies changes if the stored version equals expectedVersion and bumps it by one.
	// On mismatch it returns a *ConflictError holding the current presentation.
	UpdatePresentation(
		ctx context.Context, presentationID uuid.UUID, expectedVersion int, changes model.Changes,
	) (*model.Presentation, error)

	// DeleteSlide removes a slide if its version equals expectedVersion and closes the position gap.
	// ErrNotFound means the slide is already gone.
	DeleteSlide(ctx context.Context, presentationID, slideID uuid.UUID, expectedVersion int) error

	// InsertSlide shifts slides at or after position and inserts slide there with version 1.
	// The position is clamped into [0, slide count].
	InsertSlide(ctx context.Context, presentationID uuid.UUID, position int, slide *model.Slide) (*model.Slide, error)

	// ReorderSlides applies position changes atomically. The resulting positions must stay dense.
	ReorderSlides(ctx context.Context, presentationID uuid.UUID, orders []model.SlideOrder) error

	// GetUser returns a user by id
	GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error)

	// Close releases the underlying resources
	Close()
}

// ClampPosition bounds a requested insert position to [0, count].
func ClampPosition(position, count int) int {
	if position < 0 {
		return 0
	}
	if position > count {
		return count
	}
	return position
}
