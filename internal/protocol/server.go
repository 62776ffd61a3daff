package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/decksnap/decksnap-sync/internal/model"
)

// SyncState is the full document snapshot sent to a client right after it joins.
type SyncState struct {
	Header
	Presentation *model.Presentation  `json:"presentation"`
	Slides       []model.SlideSummary `json:"slides"`
	ActiveUsers  []model.ActiveUser   `json:"active_users"`
	Version      int                  `json:"version"`
}

// NewSyncState builds the initial snapshot of doc.
func NewSyncState(doc *model.Document, activeUsers []model.ActiveUser) *SyncState {
	slides := make([]model.SlideSummary, 0, len(doc.Slides))
	for _, s := range doc.Slides {
		slides = append(slides, s.Summary())
	}
	return &SyncState{
		Header:       newHeader(TypeSyncState),
		Presentation: doc.Presentation,
		Slides:       slides,
		ActiveUsers:  nonNilUsers(activeUsers),
		Version:      doc.Presentation.Version,
	}
}

// Ack confirms a mutation to its sender.
type Ack struct {
	Header
	OriginalMessageID string     `json:"original_message_id"`
	Success           bool       `json:"success"`
	NewVersion        *int       `json:"new_version,omitempty"`
	ServerID          *uuid.UUID `json:"server_id,omitempty"`
}

// NewAck acknowledges originalID. newVersion is omitted when nil.
func NewAck(originalID string, newVersion *int) *Ack {
	return &Ack{
		Header:            newHeader(TypeSyncAck),
		OriginalMessageID: originalID,
		Success:           true,
		NewVersion:        newVersion,
	}
}

// NewCreateAck acknowledges a slide creation with the id assigned by the server.
func NewCreateAck(originalID string, serverID uuid.UUID, version int) *Ack {
	ack := NewAck(originalID, &version)
	ack.ServerID = &serverID
	return ack
}

// Conflict rejects a mutation whose base version is stale.
type Conflict struct {
	Header
	OriginalMessageID string          `json:"original_message_id"`
	ConflictType      ConflictType    `json:"conflict_type"`
	ServerState       json.RawMessage `json:"server_state"`
	ServerVersion     int             `json:"server_version"`
}

// NewConflict builds a version mismatch conflict carrying the authoritative entity state.
func NewConflict(originalID string, serverState any, serverVersion int) (*Conflict, error) {
	state, err := json.Marshal(serverState)
	if err != nil {
		return nil, fmt.Errorf("failed to encode server state: %w", err)
	}
	return &Conflict{
		Header:            newHeader(TypeSyncConflict),
		OriginalMessageID: originalID,
		ConflictType:      ConflictVersionMismatch,
		ServerState:       state,
		ServerVersion:     serverVersion,
	}, nil
}

// Error reports a failed operation to its sender.
type Error struct {
	Header
	OriginalMessageID string    `json:"original_message_id,omitempty"`
	ErrorCode         ErrorCode `json:"error_code"`
	ErrorMessage      string    `json:"error_message"`
}

// NewError builds an error frame. originalID may be empty for connection level errors.
func NewError(originalID string, code ErrorCode, message string) *Error {
	return &Error{
		Header:            newHeader(TypeError),
		OriginalMessageID: originalID,
		ErrorCode:         code,
		ErrorMessage:      message,
	}
}

// UserJoined announces a new occupant to the rest of the room.
type UserJoined struct {
	Header
	User        model.ActiveUser   `json:"user"`
	ActiveUsers []model.ActiveUser `json:"active_users"`
}

// NewUserJoined builds a user:joined frame.
func NewUserJoined(user model.ActiveUser, activeUsers []model.ActiveUser) *UserJoined {
	return &UserJoined{Header: newHeader(TypeUserJoined), User: user, ActiveUsers: nonNilUsers(activeUsers)}
}

// UserLeft announces a departure to the rest of the room.
type UserLeft struct {
	Header
	UserID      uuid.UUID          `json:"user_id"`
	ActiveUsers []model.ActiveUser `json:"active_users"`
}

// NewUserLeft builds a user:left frame.
func NewUserLeft(userID uuid.UUID, activeUsers []model.ActiveUser) *UserLeft {
	return &UserLeft{Header: newHeader(TypeUserLeft), UserID: userID, ActiveUsers: nonNilUsers(activeUsers)}
}

// SlideUpdated is relayed to peers after a slide update is applied.
type SlideUpdated struct {
	Header
	SlideID   uuid.UUID     `json:"slide_id"`
	Changes   model.Changes `json:"changes"`
	Version   int           `json:"version"`
	UpdatedBy uuid.UUID     `json:"updated_by"`
}

// NewSlideUpdated builds the peer broadcast for an applied slide update.
func NewSlideUpdated(slideID uuid.UUID, changes model.Changes, version int, by uuid.UUID) *SlideUpdated {
	return &SlideUpdated{Header: newHeader(TypeSlideUpdate), SlideID: slideID, Changes: changes, Version: version, UpdatedBy: by}
}

// SlideCreated is relayed to peers after a slide is inserted.
type SlideCreated struct {
	Header
	Slide     *model.Slide `json:"slide"`
	TempID    string       `json:"temp_id"`
	CreatedBy uuid.UUID    `json:"created_by"`
}

// NewSlideCreated builds the peer broadcast for an inserted slide.
func NewSlideCreated(slide *model.Slide, tempID string, by uuid.UUID) *SlideCreated {
	return &SlideCreated{Header: newHeader(TypeSlideCreate), Slide: slide, TempID: tempID, CreatedBy: by}
}

// SlideDeleted is relayed to peers after a slide is removed.
type SlideDeleted struct {
	Header
	SlideID   uuid.UUID `json:"slide_id"`
	DeletedBy uuid.UUID `json:"deleted_by"`
}

// NewSlideDeleted builds the peer broadcast for a removed slide.
func NewSlideDeleted(slideID, by uuid.UUID) *SlideDeleted {
	return &SlideDeleted{Header: newHeader(TypeSlideDelete), SlideID: slideID, DeletedBy: by}
}

// SlidesReordered is relayed to peers after a reorder is applied.
type SlidesReordered struct {
	Header
	SlideOrders []model.SlideOrder `json:"slide_orders"`
	ReorderedBy uuid.UUID          `json:"reordered_by"`
}

// NewSlidesReordered builds the peer broadcast for an applied reorder.
func NewSlidesReordered(orders []model.SlideOrder, by uuid.UUID) *SlidesReordered {
	return &SlidesReordered{Header: newHeader(TypeSlideReorder), SlideOrders: orders, ReorderedBy: by}
}

// PresentationUpdated is relayed to peers after a presentation update is applied.
type PresentationUpdated struct {
	Header
	Changes   model.Changes `json:"changes"`
	Version   int           `json:"version"`
	UpdatedBy uuid.UUID     `json:"updated_by"`
}

// NewPresentationUpdated builds the peer broadcast for an applied presentation update.
func NewPresentationUpdated(changes model.Changes, version int, by uuid.UUID) *PresentationUpdated {
	return &PresentationUpdated{Header: newHeader(TypePresentationUpdate), Changes: changes, Version: version, UpdatedBy: by}
}

// CursorMoved relays a cursor position tagged with its originator.
type CursorMoved struct {
	Header
	UserID  uuid.UUID  `json:"user_id"`
	SlideID *uuid.UUID `json:"slide_id"`
	X       float64    `json:"x"`
	Y       float64    `json:"y"`
}

// NewCursorMoved tags m with the sender.
func NewCursorMoved(m *CursorMove, userID uuid.UUID) *CursorMoved {
	return &CursorMoved{Header: newHeader(TypeCursorMove), UserID: userID, SlideID: m.SlideID, X: m.X, Y: m.Y}
}

// SelectionChanged relays a selection tagged with its originator.
type SelectionChanged struct {
	Header
	UserID    uuid.UUID  `json:"user_id"`
	SlideID   *uuid.UUID `json:"slide_id"`
	ElementID *string    `json:"element_id"`
}

// NewSelectionChanged tags m with the sender.
func NewSelectionChanged(m *SelectionChange, userID uuid.UUID) *SelectionChanged {
	return &SelectionChanged{Header: newHeader(TypeSelectionChange), UserID: userID, SlideID: m.SlideID, ElementID: m.ElementID}
}

// Encode serializes a frame.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", m.Kind(), err)
	}
	return data, nil
}

func nonNilUsers(users []model.ActiveUser) []model.ActiveUser {
	if users == nil {
		return []model.ActiveUser{}
	}
	return users
}
