// Package events pushes server originated events, such as image generation
// progress, into presentation rooms.
package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/decksnap/decksnap-sync/internal/protocol"
)

// Broadcaster delivers a frame to the occupants of a room on every instance
type Broadcaster interface {
	BroadcastToRoom(ctx context.Context, documentID uuid.UUID, msg protocol.Message, excludeUserID uuid.UUID) error
}

// Notifier relays image pipeline events to rooms
type Notifier struct {
	rooms Broadcaster
}

// NewNotifier creates a notifier publishing through rooms
func NewNotifier(rooms Broadcaster) *Notifier {
	return &Notifier{rooms: rooms}
}

// Publish decodes a raw image event and broadcasts it to everyone in the room.
// Decode failures are returned as *protocol.DecodeError.
func (n *Notifier) Publish(ctx context.Context, documentID uuid.UUID, data []byte) (protocol.Message, error) {
	msg, err := protocol.DecodeImageEvent(data)
	if err != nil {
		return nil, err
	}
	if err := n.broadcast(ctx, documentID, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (n *Notifier) broadcast(ctx context.Context, documentID uuid.UUID, msg protocol.Message) error {
	if err := n.rooms.BroadcastToRoom(ctx, documentID, msg, uuid.Nil); err != nil {
		return fmt.Errorf("failed to broadcast %s: %w", msg.Kind(), err)
	}
	slog.DebugContext(ctx, "Image event broadcast", "document_id", documentID, "message_type", msg.Kind())
	return nil
}
