package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/decksnap/decksnap-sync/internal/model"
	"github.com/decksnap/decksnap-sync/internal/otel"
	"github.com/decksnap/decksnap-sync/internal/protocol"
	"github.com/decksnap/decksnap-sync/internal/store"
	"github.com/decksnap/decksnap-sync/internal/telemetry"
)

// DefaultOperationTimeout bounds the handling of one frame
const DefaultOperationTimeout = 10 * time.Second

// Rooms delivers frames to room occupants
type Rooms interface {
	// BroadcastToRoom relays msg to every occupant except excludeUserID
	BroadcastToRoom(ctx context.Context, documentID uuid.UUID, msg protocol.Message, excludeUserID uuid.UUID) error
	// SendToUser delivers msg to the user's local connection only
	SendToUser(ctx context.Context, documentID, userID uuid.UUID, msg protocol.Message) error
}

// Client identifies the sender of a frame
type Client struct {
	DocumentID uuid.UUID
	UserID     uuid.UUID
}

// Handler applies client frames against the store
type Handler struct {
	store   store.Store
	rooms   Rooms
	timeout time.Duration
	metrics *telemetry.SyncMetrics
	tracer  trace.Tracer
}

// Option configures the Handler
type Option func(*Handler)

// WithOperationTimeout bounds the store and fabric calls made for one frame
func WithOperationTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithTracer sets the tracer. If not set, tracing is disabled.
func WithTracer(tracer trace.Tracer) Option {
	return func(h *Handler) {
		h.tracer = tracer
	}
}

// NewHandler creates a handler over the store and the room registry
func NewHandler(st store.Store, rooms Rooms, opts ...Option) *Handler {
	h := &Handler{
		store:   st,
		rooms:   rooms,
		timeout: DefaultOperationTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes one inbound frame from c. Failures are reported to the
// sender and never returned, so the connection stays open.
func (h *Handler) Handle(ctx context.Context, c Client, data []byte) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	msg, err := protocol.Decode(data)
	if err != nil {
		var de *protocol.DecodeError
		if !errors.As(err, &de) {
			de = &protocol.DecodeError{Err: err}
		}
		slog.DebugContext(ctx, "Rejecting client frame",
			"document_id", c.DocumentID, "user_id", c.UserID, "error", err)
		h.reply(ctx, c, protocol.NewError(de.Header.MessageID, de.Code(), decodeErrorText(de)))
		h.metrics.RecordMessage(ctx, metricType(de), telemetry.OutcomeError, time.Since(start))
		return
	}

	// presence frames are not traced
	if !msg.Kind().IsPresence() {
		var span trace.Span
		ctx, span = otel.StartSpan(ctx, h.tracer, "sync.Handle", trace.WithAttributes(
			otel.AttrPresentationID.String(c.DocumentID.String()),
			otel.AttrUserID.String(c.UserID.String()),
			otel.AttrMessageType.String(string(msg.Kind())),
		))
		defer span.End()
	}

	outcome := h.dispatch(ctx, c, msg)
	h.metrics.RecordMessage(ctx, string(msg.Kind()), outcome, time.Since(start))
}

func (h *Handler) dispatch(ctx context.Context, c Client, msg protocol.Message) string {
	switch m := msg.(type) {
	case *protocol.SlideUpdate:
		return h.updateSlide(ctx, c, m)
	case *protocol.SlideCreate:
		return h.createSlide(ctx, c, m)
	case *protocol.SlideDelete:
		return h.deleteSlide(ctx, c, m)
	case *protocol.SlideReorder:
		return h.reorderSlides(ctx, c, m)
	case *protocol.PresentationUpdate:
		return h.updatePresentation(ctx, c, m)
	case *protocol.CursorMove:
		return h.relay(ctx, c, m, protocol.NewCursorMoved(m, c.UserID))
	case *protocol.SelectionChange:
		return h.relay(ctx, c, m, protocol.NewSelectionChanged(m, c.UserID))
	default:
		h.reply(ctx, c, protocol.NewError(msg.ID(), protocol.ErrorUnknownMessageType,
			fmt.Sprintf("Unknown message type: %s", msg.Kind())))
		return telemetry.OutcomeError
	}
}

func (h *Handler) updateSlide(ctx context.Context, c Client, m *protocol.SlideUpdate) string {
	changes, err := model.FilterSlideChanges(m.Changes)
	if err != nil {
		return h.fail(ctx, c, m, protocol.ErrorInvalidMessage, invalidChangeText(err), nil)
	}

	updated, err := h.store.UpdateSlide(ctx, c.DocumentID, m.SlideID, m.BaseVersion, changes)
	if err != nil {
		return h.storeFailure(ctx, c, m, err, protocol.ErrorSlideNotFound, "Slide not found", "Failed to update slide")
	}

	h.reply(ctx, c, protocol.NewAck(m.ID(), &updated.Version))
	return h.broadcast(ctx, c, m, protocol.NewSlideUpdated(updated.ID, changes, updated.Version, c.UserID))
}

func (h *Handler) createSlide(ctx context.Context, c Client, m *protocol.SlideCreate) string {
	slide, err := model.SlideFromData(m.SlideData)
	if err != nil {
		return h.fail(ctx, c, m, protocol.ErrorInvalidMessage, invalidChangeText(err), nil)
	}

	created, err := h.store.InsertSlide(ctx, c.DocumentID, m.Position, slide)
	if err != nil {
		return h.storeFailure(ctx, c, m, err,
			protocol.ErrorPresentationNotFound, "Presentation not found", "Failed to create slide")
	}

	h.reply(ctx, c, protocol.NewCreateAck(m.ID(), created.ID, created.Version))
	return h.broadcast(ctx, c, m, protocol.NewSlideCreated(created, m.TempID, c.UserID))
}

func (h *Handler) deleteSlide(ctx context.Context, c Client, m *protocol.SlideDelete) string {
	err := h.store.DeleteSlide(ctx, c.DocumentID, m.SlideID, m.BaseVersion)
	if errors.Is(err, store.ErrNotFound) {
		// already gone, e.g. a concurrent delete won
		h.reply(ctx, c, protocol.NewAck(m.ID(), nil))
		return telemetry.OutcomeAck
	}
	if err != nil {
		return h.storeFailure(ctx, c, m, err, protocol.ErrorSlideNotFound, "Slide not found", "Failed to delete slide")
	}

	h.reply(ctx, c, protocol.NewAck(m.ID(), nil))
	return h.broadcast(ctx, c, m, protocol.NewSlideDeleted(m.SlideID, c.UserID))
}

func (h *Handler) reorderSlides(ctx context.Context, c Client, m *protocol.SlideReorder) string {
	err := h.store.ReorderSlides(ctx, c.DocumentID, m.SlideOrders)
	if errors.Is(err, store.ErrInvalidReorder) {
		return h.fail(ctx, c, m, protocol.ErrorInvalidReorder, "Invalid slide order", err)
	}
	if err != nil {
		return h.storeFailure(ctx, c, m, err,
			protocol.ErrorPresentationNotFound, "Presentation not found", "Failed to reorder slides")
	}

	h.reply(ctx, c, protocol.NewAck(m.ID(), nil))
	return h.broadcast(ctx, c, m, protocol.NewSlidesReordered(m.SlideOrders, c.UserID))
}

func (h *Handler) updatePresentation(ctx context.Context, c Client, m *protocol.PresentationUpdate) string {
	changes, err := model.FilterPresentationChanges(m.Changes)
	if err != nil {
		return h.fail(ctx, c, m, protocol.ErrorInvalidMessage, invalidChangeText(err), nil)
	}

	updated, err := h.store.UpdatePresentation(ctx, c.DocumentID, m.BaseVersion, changes)
	if err != nil {
		return h.storeFailure(ctx, c, m, err,
			protocol.ErrorPresentationNotFound, "Presentation not found", "Failed to update presentation")
	}

	h.reply(ctx, c, protocol.NewAck(m.ID(), &updated.Version))
	return h.broadcast(ctx, c, m, protocol.NewPresentationUpdated(changes, updated.Version, c.UserID))
}

// relay forwards a presence frame to the other occupants
func (h *Handler) relay(ctx context.Context, c Client, m protocol.Message, out protocol.Message) string {
	if err := h.rooms.BroadcastToRoom(ctx, c.DocumentID, out, c.UserID); err != nil {
		return h.fail(ctx, c, m, protocol.ErrorInternal, "Failed to broadcast presence", err)
	}
	return telemetry.OutcomeBroadcast
}

// broadcast relays an applied change. The sender has already been acknowledged.
func (h *Handler) broadcast(ctx context.Context, c Client, m protocol.Message, out protocol.Message) string {
	if err := h.rooms.BroadcastToRoom(ctx, c.DocumentID, out, c.UserID); err != nil {
		h.fail(ctx, c, m, protocol.ErrorInternal, "Failed to broadcast change", err)
	}
	return telemetry.OutcomeAck
}

// storeFailure answers a failed store call with a conflict, a not found error or an internal error
func (h *Handler) storeFailure(
	ctx context.Context, c Client, m protocol.Message, err error,
	notFound protocol.ErrorCode, notFoundText, internalText string,
) string {
	var conflict *store.ConflictError
	switch {
	case errors.As(err, &conflict):
		current := conflict.Current
		if slide, ok := current.(*model.Slide); ok {
			current = slide.Summary()
		}
		frame, encErr := protocol.NewConflict(m.ID(), current, conflict.Version)
		if encErr != nil {
			return h.fail(ctx, c, m, protocol.ErrorInternal, internalText, encErr)
		}
		slog.DebugContext(ctx, "Version conflict",
			"document_id", c.DocumentID, "user_id", c.UserID,
			"message_type", m.Kind(), "server_version", conflict.Version)
		h.reply(ctx, c, frame)
		return telemetry.OutcomeConflict
	case errors.Is(err, store.ErrNotFound):
		return h.fail(ctx, c, m, notFound, notFoundText, nil)
	default:
		return h.fail(ctx, c, m, protocol.ErrorInternal, internalText, err)
	}
}

// fail sends an error frame to the sender. A non-nil cause is logged and recorded on the span.
func (h *Handler) fail(
	ctx context.Context, c Client, m protocol.Message, code protocol.ErrorCode, text string, cause error,
) string {
	if cause != nil {
		otel.RecordError(trace.SpanFromContext(ctx), cause)
		level := slog.LevelError
		if code != protocol.ErrorInternal {
			level = slog.LevelDebug
		}
		slog.Log(ctx, level, "Failed to handle message",
			"document_id", c.DocumentID, "user_id", c.UserID,
			"message_type", m.Kind(), "error_code", code, "error", cause)
	}
	h.reply(ctx, c, protocol.NewError(m.ID(), code, text))
	return telemetry.OutcomeError
}

// reply sends a frame to the sender only
func (h *Handler) reply(ctx context.Context, c Client, msg protocol.Message) {
	if err := h.rooms.SendToUser(ctx, c.DocumentID, c.UserID, msg); err != nil {
		slog.WarnContext(ctx, "Failed to reply to sender",
			"document_id", c.DocumentID, "user_id", c.UserID, "message_type", msg.Kind(), "error", err)
	}
}

func decodeErrorText(de *protocol.DecodeError) string {
	if de.Code() == protocol.ErrorUnknownMessageType {
		return fmt.Sprintf("Unknown message type: %s", de.Header.Type)
	}
	return "Invalid message format"
}

func invalidChangeText(err error) string {
	return fmt.Sprintf("Invalid message format: %v", err)
}

// metricType keeps the type label bounded for frames that never decoded
func metricType(de *protocol.DecodeError) string {
	if de.Code() == protocol.ErrorUnknownMessageType || de.Header.Type == "" {
		return "unknown"
	}
	return string(de.Header.Type)
}
