package api

import (
	"context"

	"github.com/google/uuid"

	"github.com/decksnap/decksnap-sync/internal/protocol"
)

// Pinger is a dependency whose availability gates readiness
type Pinger interface {
	Ping(ctx context.Context) error
}

// ImagePublisher broadcasts raw image events into a presentation room
type ImagePublisher interface {
	Publish(ctx context.Context, documentID uuid.UUID, data []byte) (protocol.Message, error)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// ImageEventResponse acknowledges an accepted image event
type ImageEventResponse struct {
	Type protocol.MessageType `json:"type"`
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}
