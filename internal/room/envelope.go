package room

import (
	"encoding/json"

	"github.com/google/uuid"
)

// envelope carries routing metadata for a room broadcast across the fabric
type envelope struct {
	DocumentID    uuid.UUID       `json:"document_id"`
	ExcludeUserID *uuid.UUID      `json:"exclude_user_id,omitempty"`
	Origin        string          `json:"origin,omitempty"`
	Seq           uint64          `json:"seq,omitempty"`
	Message       json.RawMessage `json:"message"`
}

func (e *envelope) excludes(userID uuid.UUID) bool {
	return e.ExcludeUserID != nil && *e.ExcludeUserID == userID
}

// predates reports whether the envelope was published by this instance before
// conn joined. Sequences from other instances are not comparable and never predate.
func (e *envelope) predates(instance string, conn *Connection) bool {
	return e.Origin == instance && e.Seq <= conn.joinSeq
}
