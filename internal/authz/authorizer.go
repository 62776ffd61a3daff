// Package authz decides which users may open a presentation, using Cedar policies.
package authz

import (
	"context"

	"github.com/google/uuid"

	"github.com/decksnap/decksnap-sync/internal/model"
)

// ActionOpen is the Cedar action checked before a user joins a presentation room
const ActionOpen = "open"

// PresentationGetter looks up presentations by id
type PresentationGetter interface {
	GetPresentation(ctx context.Context, presentationID uuid.UUID) (*model.Presentation, error)
}

// Decision represents the result of a policy evaluation.
type Decision struct {
	// Allowed indicates whether the request is permitted.
	Allowed bool

	// Reasons provides policy IDs that contributed to the decision.
	Reasons []string
}
