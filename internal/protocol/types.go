// Package protocol defines the JSON wire format exchanged between collaborators
// and the sync server over a WebSocket connection.
//
// Every frame is a JSON object with a "type" discriminator, a "message_id" and a
// "timestamp". Client frames are decoded into one of the typed messages in this
// package; server frames are built with the New* constructors and serialized
// with Encode.
package protocol

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// MessageType is the "type" discriminator of a frame
type MessageType string

// Client to server mutations
const (
	TypeSlideUpdate        MessageType = "slide:update"
	TypeSlideCreate        MessageType = "slide:create"
	TypeSlideDelete        MessageType = "slide:delete"
	TypeSlideReorder       MessageType = "slide:reorder"
	TypePresentationUpdate MessageType = "presentation:update"
)

// Presence messages. They are relayed to peers and never persisted.
const (
	TypeCursorMove      MessageType = "cursor:move"
	TypeSelectionChange MessageType = "selection:change"
)

// Server to client frames
const (
	TypeSyncState    MessageType = "sync:state"
	TypeSyncAck      MessageType = "sync:ack"
	TypeSyncConflict MessageType = "sync:conflict"
	TypeUserJoined   MessageType = "user:joined"
	TypeUserLeft     MessageType = "user:left"
	TypeError        MessageType = "error"
)

// Image generation progress, emitted by the server on behalf of the image pipeline
const (
	TypeImageGenerating MessageType = "image:generating"
	TypeImageCompleted  MessageType = "image:completed"
	TypeImageFailed     MessageType = "image:failed"
)

// IsPresence reports whether t is a presence message type
func (t MessageType) IsPresence() bool {
	return t == TypeCursorMove || t == TypeSelectionChange
}

// IsImageEvent reports whether t is an image generation event type
func (t MessageType) IsImageEvent() bool {
	switch t {
	case TypeImageGenerating, TypeImageCompleted, TypeImageFailed:
		return true
	default:
		return false
	}
}

// ErrorCode identifies the reason carried by an error frame
type ErrorCode string

// Error codes sent in error frames
const (
	ErrorUnknownMessageType   ErrorCode = "unknown_message_type"
	ErrorInvalidMessage       ErrorCode = "invalid_message"
	ErrorSlideNotFound        ErrorCode = "slide_not_found"
	ErrorPresentationNotFound ErrorCode = "presentation_not_found"
	ErrorInvalidReorder       ErrorCode = "invalid_reorder"
	ErrorInitialStateFailed   ErrorCode = "initial_state_failed"
	ErrorInternal             ErrorCode = "internal_error"
)

// ConflictType classifies a rejected mutation
type ConflictType string

// Conflict types. Only ConflictVersionMismatch is produced by the sync handler today.
const (
	ConflictVersionMismatch  ConflictType = "version_mismatch"
	ConflictConcurrentEdit   ConflictType = "concurrent_edit"
	ConflictDeleted          ConflictType = "deleted"
	ConflictPermissionDenied ConflictType = "permission_denied"
)

// Message is implemented by every client and server frame.
type Message interface {
	Kind() MessageType
	ID() string
}

// Header carries the fields common to every frame.
type Header struct {
	Type      MessageType `json:"type"`
	MessageID string      `json:"message_id,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// Kind returns the frame type
func (h Header) Kind() MessageType { return h.Type }

// ID returns the frame message id
func (h Header) ID() string { return h.MessageID }

// NewMessageID returns a new lexically sortable message id
func NewMessageID() string {
	return ulid.Make().String()
}

func newHeader(t MessageType) Header {
	return Header{
		Type:      t,
		MessageID: NewMessageID(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}
