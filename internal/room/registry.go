// Package room tracks which users are connected to which documents on this
// instance and relays room broadcasts through the fabric.
//
// Every room holds exactly one fabric subscription for its channel. Broadcasts
// are published to the fabric, never delivered directly, so all instances
// serving a document see the same stream.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/decksnap/decksnap-sync/internal/fabric"
	"github.com/decksnap/decksnap-sync/internal/model"
	"github.com/decksnap/decksnap-sync/internal/protocol"
	"github.com/decksnap/decksnap-sync/internal/telemetry"
)

// ErrShutdown is returned by Join after Shutdown
var ErrShutdown = errors.New("room registry is shut down")

const (
	// DefaultChannelPrefix prefixes every room channel name
	DefaultChannelPrefix = "presentation:"
	channelSuffix        = ":sync"

	defaultPublishTimeout = 5 * time.Second
)

type room struct {
	id    uuid.UUID
	conns map[uuid.UUID]*Connection
	sub   *fabric.Subscription

	ready    chan struct{} // closed once the subscription is live or failed
	err      error
	consumed chan struct{} // closed when the consumer goroutine exits
}

func (rm *room) isReady() bool {
	select {
	case <-rm.ready:
		return rm.err == nil
	default:
		return false
	}
}

// activeUsers returns the room's users ordered by name then id. Caller must hold the registry lock.
func (rm *room) activeUsers() []model.ActiveUser {
	users := make([]model.ActiveUser, 0, len(rm.conns))
	for _, c := range rm.conns {
		users = append(users, c.User)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].UserID.String() < users[j].UserID.String()
	})
	return users
}

// Registry is the per-instance connection manager
type Registry struct {
	fabric         fabric.Fabric
	prefix         string
	publishTimeout time.Duration
	metrics        *telemetry.SyncMetrics

	// instance and seq stamp every broadcast so a connection skips frames
	// this instance published before it joined
	instance string
	seq      atomic.Uint64

	mu     sync.Mutex // Protects rooms and closed
	rooms  map[uuid.UUID]*room
	closed bool
}

// Option configures the Registry
type Option func(*Registry)

// WithChannelPrefix overrides DefaultChannelPrefix
func WithChannelPrefix(prefix string) Option {
	return func(r *Registry) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithMetrics sets the metrics recorder for connection and room gauges
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithPublishTimeout bounds fabric publishes that have no caller context
func WithPublishTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.publishTimeout = d
		}
	}
}

// NewRegistry creates a registry on top of the fabric. The fabric stays owned by the caller.
func NewRegistry(f fabric.Fabric, opts ...Option) *Registry {
	r := &Registry{
		fabric:         f,
		prefix:         DefaultChannelPrefix,
		publishTimeout: defaultPublishTimeout,
		instance:       ulid.Make().String(),
		rooms:          make(map[uuid.UUID]*room),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Channel returns the fabric channel of a document
func (r *Registry) Channel(documentID uuid.UUID) string {
	return r.prefix + documentID.String() + channelSuffix
}

// Join registers the transport as the user's connection in the document's room.
// The room and its fabric subscription are created first if needed. A previous
// connection of the same user is replaced and closed with CloseSuperseded.
// Other occupants receive user:joined. The returned list includes the joining user.
func (r *Registry) Join(
	ctx context.Context, documentID uuid.UUID, user model.ActiveUser, transport Transport,
) (*Connection, []model.ActiveUser, error) {
	conn := &Connection{DocumentID: documentID, User: user, transport: transport}

	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, nil, ErrShutdown
		}

		rm, ok := r.rooms[documentID]
		if !ok {
			rm = &room{
				id:       documentID,
				conns:    make(map[uuid.UUID]*Connection),
				ready:    make(chan struct{}),
				consumed: make(chan struct{}),
			}
			r.rooms[documentID] = rm
			r.mu.Unlock()

			if err := r.open(ctx, rm); err != nil {
				return nil, nil, err
			}
			continue
		}

		if !rm.isReady() {
			r.mu.Unlock()
			select {
			case <-rm.ready:
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
			continue
		}

		prev := rm.conns[user.UserID]
		// later joiners take a higher sequence and skip this stale user list
		seq := r.seq.Add(1)
		conn.joinSeq = seq
		rm.conns[user.UserID] = conn
		users := rm.activeUsers()
		r.mu.Unlock()

		if prev != nil {
			slog.InfoContext(ctx, "Replacing existing connection",
				"document_id", documentID, "user_id", user.UserID)
			_ = prev.transport.Close(CloseSuperseded, "connection superseded")
		} else {
			r.metrics.ConnectionOpened(ctx)
		}

		if err := r.publish(ctx, documentID, protocol.NewUserJoined(user, users), user.UserID, seq); err != nil {
			slog.WarnContext(ctx, "Failed to broadcast user joined",
				"document_id", documentID, "user_id", user.UserID, "error", err)
		}
		slog.InfoContext(ctx, "User joined room",
			"document_id", documentID, "user_id", user.UserID, "active_users", len(users))
		return conn, users, nil
	}
}

// open subscribes the placeholder room and starts its consumer
func (r *Registry) open(ctx context.Context, rm *room) error {
	sub, err := r.fabric.Subscribe(ctx, r.Channel(rm.id))

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		delete(r.rooms, rm.id)
		rm.err = err
		close(rm.ready)
		close(rm.consumed)
		return fmt.Errorf("failed to subscribe room: %w", err)
	}
	if r.closed {
		delete(r.rooms, rm.id)
		rm.err = ErrShutdown
		close(rm.ready)
		close(rm.consumed)
		sub.Close()
		return ErrShutdown
	}

	rm.sub = sub
	close(rm.ready)
	go r.consume(rm)
	r.metrics.RoomOpened(ctx)
	slog.DebugContext(ctx, "Room opened", "document_id", rm.id, "channel", sub.Channel())
	return nil
}

// Leave removes the user's connection from the room. It is idempotent.
func (r *Registry) Leave(ctx context.Context, documentID, userID uuid.UUID) {
	r.remove(ctx, documentID, userID, nil)
}

// Disconnect removes conn if it is still the user's current connection.
// A superseded connection tearing down never evicts its replacement.
func (r *Registry) Disconnect(ctx context.Context, conn *Connection) {
	if conn == nil {
		return
	}
	r.remove(ctx, conn.DocumentID, conn.UserID(), conn)
}

func (r *Registry) remove(ctx context.Context, documentID, userID uuid.UUID, only *Connection) {
	r.mu.Lock()
	rm, ok := r.rooms[documentID]
	if !ok || !rm.isReady() {
		r.mu.Unlock()
		return
	}
	current, ok := rm.conns[userID]
	if !ok || (only != nil && current != only) {
		r.mu.Unlock()
		return
	}
	delete(rm.conns, userID)

	empty := len(rm.conns) == 0
	if empty {
		delete(r.rooms, documentID)
	}
	users := rm.activeUsers()
	seq := r.seq.Add(1)
	r.mu.Unlock()

	r.metrics.ConnectionClosed(ctx)
	slog.InfoContext(ctx, "User left room", "document_id", documentID, "user_id", userID)

	// occupants on other instances still need the departure when this room empties
	if err := r.publish(ctx, documentID, protocol.NewUserLeft(userID, users), uuid.Nil, seq); err != nil {
		slog.WarnContext(ctx, "Failed to broadcast user left",
			"document_id", documentID, "user_id", userID, "error", err)
	}
	if empty {
		r.discard(ctx, rm)
	}
}

// discard releases a room that is no longer in the map
func (r *Registry) discard(ctx context.Context, rm *room) {
	rm.sub.Close()
	r.metrics.RoomClosed(ctx)
	slog.DebugContext(ctx, "Room closed", "document_id", rm.id)
}

// BroadcastToRoom publishes msg to every occupant of the document on every
// instance. excludeUserID, when not uuid.Nil, is skipped on delivery.
func (r *Registry) BroadcastToRoom(
	ctx context.Context, documentID uuid.UUID, msg protocol.Message, excludeUserID uuid.UUID,
) error {
	return r.publish(ctx, documentID, msg, excludeUserID, r.seq.Add(1))
}

// publish sends msg stamped with seq. Connections that joined at or after seq skip it.
func (r *Registry) publish(
	ctx context.Context, documentID uuid.UUID, msg protocol.Message, excludeUserID uuid.UUID, seq uint64,
) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	env := envelope{DocumentID: documentID, Origin: r.instance, Seq: seq, Message: payload}
	if excludeUserID != uuid.Nil {
		env.ExcludeUserID = &excludeUserID
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.publishTimeout)
		defer cancel()
	}
	if err := r.fabric.Publish(ctx, r.Channel(documentID), data); err != nil {
		return fmt.Errorf("failed to publish to room: %w", err)
	}
	return nil
}

// SendToUser delivers msg to the user's local connection. It is a no-op when
// the user has no connection in the room on this instance.
func (r *Registry) SendToUser(ctx context.Context, documentID, userID uuid.UUID, msg protocol.Message) error {
	r.mu.Lock()
	var conn *Connection
	if rm, ok := r.rooms[documentID]; ok {
		conn = rm.conns[userID]
	}
	r.mu.Unlock()
	if conn == nil {
		return nil
	}

	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := conn.Send(payload); err != nil {
		r.prune(ctx, conn, err)
		return fmt.Errorf("failed to send to user: %w", err)
	}
	return nil
}

// ActiveUsers returns the users connected to the document on this instance
func (r *Registry) ActiveUsers(documentID uuid.UUID) []model.ActiveUser {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[documentID]
	if !ok {
		return []model.ActiveUser{}
	}
	return rm.activeUsers()
}

// IsUserInRoom reports whether the user has a local connection to the document
func (r *Registry) IsUserInRoom(documentID, userID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[documentID]
	if !ok {
		return false
	}
	_, ok = rm.conns[userID]
	return ok
}

// RoomCount returns the number of live rooms
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rm := range r.rooms {
		if rm.isReady() {
			n++
		}
	}
	return n
}

// ConnectionCount returns the number of live connections across all rooms
func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rm := range r.rooms {
		n += len(rm.conns)
	}
	return n
}

// Shutdown closes every connection with CloseGoingAway and releases all
// subscriptions. Join fails afterwards.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	rooms := r.rooms
	r.rooms = make(map[uuid.UUID]*room)
	r.mu.Unlock()

	slog.InfoContext(ctx, "Shutting down room registry", "rooms", len(rooms))
	for _, rm := range rooms {
		// rooms still opening are finalized by open once it observes closed
		if !rm.isReady() {
			continue
		}
		r.mu.Lock()
		conns := maps.Clone(rm.conns)
		r.mu.Unlock()
		for userID, conn := range conns {
			_ = conn.transport.Close(CloseGoingAway, "server shutting down")
			r.metrics.ConnectionClosed(ctx)

			r.mu.Lock()
			delete(rm.conns, userID)
			users := rm.activeUsers()
			r.mu.Unlock()
			// other instances keep serving the room
			if err := r.BroadcastToRoom(ctx, rm.id, protocol.NewUserLeft(userID, users), uuid.Nil); err != nil {
				slog.WarnContext(ctx, "Failed to broadcast user left",
					"document_id", rm.id, "user_id", userID, "error", err)
			}
		}
		r.discard(ctx, rm)
	}

	for _, rm := range rooms {
		select {
		case <-rm.consumed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// consume delivers fabric payloads to the room's local connections until the
// subscription closes
func (r *Registry) consume(rm *room) {
	defer close(rm.consumed)
	for data := range rm.sub.Messages() {
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("Dropping malformed room broadcast", "document_id", rm.id, "error", err)
			continue
		}
		if env.DocumentID != rm.id {
			continue
		}
		r.deliver(rm, &env)
	}
}

func (r *Registry) deliver(rm *room, env *envelope) {
	r.mu.Lock()
	targets := make([]*Connection, 0, len(rm.conns))
	for userID, conn := range rm.conns {
		if !env.excludes(userID) && !env.predates(r.instance, conn) {
			targets = append(targets, conn)
		}
	}
	r.mu.Unlock()

	for _, conn := range targets {
		if err := conn.Send(env.Message); err != nil {
			r.prune(context.Background(), conn, err)
		}
	}
}

// prune treats a failed send as an implicit disconnect
func (r *Registry) prune(ctx context.Context, conn *Connection, cause error) {
	slog.WarnContext(ctx, "Pruning connection after failed send",
		"document_id", conn.DocumentID, "user_id", conn.UserID(), "error", cause)
	r.metrics.ConnectionPruned(ctx)
	_ = conn.transport.Close(CloseSendFailed, "send failed")
	r.Disconnect(ctx, conn)
}
