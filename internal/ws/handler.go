// Package ws is the WebSocket entry point of the sync server. It authenticates
// and authorizes the caller, registers the connection with the room registry,
// sends the initial document state and then feeds every inbound frame to the
// sync handler.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/decksnap/decksnap-sync/internal/auth"
	"github.com/decksnap/decksnap-sync/internal/model"
	"github.com/decksnap/decksnap-sync/internal/protocol"
	"github.com/decksnap/decksnap-sync/internal/room"
	"github.com/decksnap/decksnap-sync/internal/store"
	pkgsync "github.com/decksnap/decksnap-sync/internal/sync"
)

// Close codes for connections rejected during the handshake
const (
	CloseUnauthorized = 4001
	CloseForbidden    = 4003
)

// PresentationParam is the route parameter holding the presentation id
const PresentationParam = "presentationID"

const (
	defaultPongWait       = 60 * time.Second
	defaultWriteWait      = 10 * time.Second
	defaultMaxMessageSize = 1 << 20
	defaultSendBuffer     = 256
	defaultHandshakeWait  = 10 * time.Second
)

// Authenticator resolves a credential to a user
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// Authorizer decides whether a user may open a presentation
type Authorizer interface {
	Authorize(ctx context.Context, userID, presentationID uuid.UUID) error
}

// Rooms registers connections
type Rooms interface {
	Join(ctx context.Context, documentID uuid.UUID, user model.ActiveUser, transport room.Transport) (
		*room.Connection, []model.ActiveUser, error)
	Disconnect(ctx context.Context, conn *room.Connection)
}

// DocumentLoader loads the initial state sent on join
type DocumentLoader interface {
	LoadDocument(ctx context.Context, presentationID uuid.UUID) (*model.Document, error)
}

// MessageHandler processes one inbound frame
type MessageHandler interface {
	Handle(ctx context.Context, c pkgsync.Client, data []byte)
}

type options struct {
	pongWait       time.Duration
	writeWait      time.Duration
	maxMessageSize int64
	sendBuffer     int
	handshakeWait  time.Duration
	allowedOrigins []string
}

// Option configures the Handler
type Option func(*options)

// WithPongWait sets how long a connection may stay silent before it is dropped
func WithPongWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pongWait = d
		}
	}
}

// WithWriteWait sets the deadline of every frame write
func WithWriteWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeWait = d
		}
	}
}

// WithMaxMessageSize limits the size of inbound frames
func WithMaxMessageSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxMessageSize = n
		}
	}
}

// WithSendBuffer sets how many outbound frames may be queued per connection
func WithSendBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.sendBuffer = n
		}
	}
}

// WithHandshakeTimeout bounds authentication, the room join and the initial
// state load of a new connection
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handshakeWait = d
		}
	}
}

// WithAllowedOrigins restricts the Origin header of upgrade requests to the given
// origins or glob patterns. Empty allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(o *options) {
		o.allowedOrigins = origins
	}
}

// Handler upgrades presentation sync requests
type Handler struct {
	authn    Authenticator
	authz    Authorizer
	rooms    Rooms
	docs     DocumentLoader
	messages MessageHandler
	opts     options
	origins  *originMatcher
	upgrader websocket.Upgrader
}

// NewHandler creates the WebSocket endpoint
func NewHandler(
	authn Authenticator,
	authz Authorizer,
	rooms Rooms,
	docs DocumentLoader,
	messages MessageHandler,
	opts ...Option,
) *Handler {
	o := options{
		pongWait:       defaultPongWait,
		writeWait:      defaultWriteWait,
		maxMessageSize: defaultMaxMessageSize,
		sendBuffer:     defaultSendBuffer,
		handshakeWait:  defaultHandshakeWait,
	}
	for _, opt := range opts {
		opt(&o)
	}

	h := &Handler{
		authn:    authn,
		authz:    authz,
		rooms:    rooms,
		docs:     docs,
		messages: messages,
		opts:     o,
		origins:  newOriginMatcher(o.allowedOrigins),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	return h.origins.allows(r.Header.Get("Origin"))
}

// ServeHTTP runs one connection until the client leaves or the server closes it
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	documentID, err := uuid.Parse(chi.URLParam(r, PresentationParam))
	if err != nil {
		http.Error(w, "invalid presentation id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		slog.WarnContext(r.Context(), "WebSocket upgrade failed", "document_id", documentID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newClient(conn, &h.opts)
	go c.writePump()

	hctx, hcancel := context.WithTimeout(ctx, h.opts.handshakeWait)
	defer hcancel()

	user, err := h.authn.Authenticate(hctx, r.URL.Query().Get("token"))
	if err != nil {
		if h.handshakeExpired(hctx, c, documentID) {
			return
		}
		if !errors.Is(err, auth.ErrUnauthorized) {
			slog.ErrorContext(ctx, "Authentication failed", "document_id", documentID, "error", err)
		}
		slog.InfoContext(ctx, "Rejecting unauthenticated connection", "document_id", documentID)
		c.closeAndWait(CloseUnauthorized, "Unauthorized")
		return
	}

	if err := h.authz.Authorize(hctx, user.ID, documentID); err != nil {
		if h.handshakeExpired(hctx, c, documentID) {
			return
		}
		if !errors.Is(err, auth.ErrForbidden) {
			slog.ErrorContext(ctx, "Authorization failed",
				"document_id", documentID, "user_id", user.ID, "error", err)
		}
		slog.InfoContext(ctx, "Rejecting unauthorized connection", "document_id", documentID, "user_id", user.ID)
		c.closeAndWait(CloseForbidden, "Access denied to presentation")
		return
	}

	active := model.ActiveUser{UserID: user.ID, Name: user.Name, AvatarURL: user.AvatarURL}
	rc, users, err := h.rooms.Join(hctx, documentID, active, c)
	if err != nil {
		if h.handshakeExpired(hctx, c, documentID) {
			return
		}
		slog.ErrorContext(ctx, "Failed to join room", "document_id", documentID, "user_id", user.ID, "error", err)
		h.sendError(c, protocol.ErrorInternal, "Failed to join presentation")
		c.closeAndWait(room.CloseSendFailed, "join failed")
		return
	}
	defer h.rooms.Disconnect(context.WithoutCancel(ctx), rc)

	if err := h.sendInitialState(hctx, c, documentID, users); err != nil {
		if !h.handshakeExpired(hctx, c, documentID) {
			c.closeAndWait(room.CloseSendFailed, "initial state failed")
		}
		return
	}
	hcancel()

	h.readPump(ctx, c, pkgsync.Client{DocumentID: documentID, UserID: user.ID})
	c.closeAndWait(websocket.CloseNormalClosure, "")
}

// handshakeExpired answers a handshake that ran out of time with internal_error and 1011
func (h *Handler) handshakeExpired(ctx context.Context, c *client, documentID uuid.UUID) bool {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return false
	}
	slog.WarnContext(ctx, "Connection handshake timed out",
		"document_id", documentID, "timeout", h.opts.handshakeWait)
	h.sendError(c, protocol.ErrorInternal, "Timed out joining presentation")
	c.closeAndWait(room.CloseSendFailed, "handshake timed out")
	return true
}

func (h *Handler) sendInitialState(
	ctx context.Context, c *client, documentID uuid.UUID, users []model.ActiveUser,
) error {
	doc, err := h.docs.LoadDocument(ctx, documentID)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return err
		}
		slog.ErrorContext(ctx, "Failed to load initial state", "document_id", documentID, "error", err)
		if errors.Is(err, store.ErrNotFound) {
			h.sendError(c, protocol.ErrorPresentationNotFound, "Presentation not found")
		} else {
			h.sendError(c, protocol.ErrorInitialStateFailed, "Failed to load presentation state")
		}
		return err
	}

	payload, err := protocol.Encode(protocol.NewSyncState(doc, users))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode initial state", "document_id", documentID, "error", err)
		h.sendError(c, protocol.ErrorInitialStateFailed, "Failed to load presentation state")
		return err
	}
	return c.Send(payload)
}

func (h *Handler) sendError(c *client, code protocol.ErrorCode, text string) {
	payload, err := protocol.Encode(protocol.NewError("", code, text))
	if err != nil {
		return
	}
	_ = c.Send(payload)
}

// readPump handles inbound frames one at a time until the connection fails
func (h *Handler) readPump(ctx context.Context, c *client, sender pkgsync.Client) {
	c.conn.SetReadLimit(h.opts.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.opts.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.opts.pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.InfoContext(ctx, "WebSocket read ended",
					"document_id", sender.DocumentID, "user_id", sender.UserID, "error", err)
			}
			return
		}
		// any inbound frame proves liveness
		_ = c.conn.SetReadDeadline(time.Now().Add(h.opts.pongWait))
		h.messages.Handle(ctx, sender, data)
	}
}
