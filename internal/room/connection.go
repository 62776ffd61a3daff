package room

import (
	"github.com/google/uuid"

	"github.com/decksnap/decksnap-sync/internal/model"
)

// Close codes sent to transports the registry closes itself
const (
	// CloseSuperseded is used when a newer connection of the same user replaces this one
	CloseSuperseded = 4000
	// CloseGoingAway is used on server shutdown
	CloseGoingAway = 1001
	// CloseSendFailed is used when a connection is pruned after a failed send
	CloseSendFailed = 1011
)

// Transport is the delivery side of a client connection.
type Transport interface {
	// Send queues an encoded frame for the client. It must not block.
	Send(payload []byte) error
	// Close terminates the connection with a close code and reason
	Close(code int, reason string) error
}

// Connection is one user's live transport in one room
type Connection struct {
	DocumentID uuid.UUID
	User       model.ActiveUser

	transport Transport
	joinSeq   uint64 // broadcast sequence taken when the connection joined
}

// UserID returns the id of the connected user
func (c *Connection) UserID() uuid.UUID {
	return c.User.UserID
}

// Send queues a frame on the underlying transport
func (c *Connection) Send(payload []byte) error {
	return c.transport.Send(payload)
}
