// Package postgres provides a PostgreSQL implementation of store.Store on top of a pgx pool.
//
// Versioned mutations are single conditional statements
// (UPDATE ... WHERE version = $n RETURNING ...), so the database arbitrates
// concurrent writers. Structural changes to a presentation's slide list lock
// the presentation row for the duration of the transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/decksnap/decksnap-sync/internal/model"
	"github.com/decksnap/decksnap-sync/internal/otel"
	"github.com/decksnap/decksnap-sync/internal/store"
)

const (
	presentationColumns = `id, owner_id, topic, theme_id, visual_style, wabi_sabi_layout, thumbnail_url,
		is_public, version, created_at, updated_at`

	slideColumns = `id, presentation_id, position, title, content, speaker_notes, image_prompt, image_url,
		image_task_id, image_storage_key, layout_type, alignment, font_scale, layout_variant, style_overrides,
		version, created_at, updated_at`

	pgCheckViolation = "23514"
)

// options holds configuration options for the postgres store
type options struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// Option is a functional option for configuring the postgres store
type Option func(*options) error

// WithConnectionPool sets the pgx pool. The store takes ownership and closes it on Close.
func WithConnectionPool(pool *pgxpool.Pool) Option {
	return func(o *options) error {
		if pool == nil {
			return fmt.Errorf("pgx pool is required")
		}
		o.pool = pool
		return nil
	}
}

// WithTracer sets the OpenTelemetry tracer. If not set, tracing is disabled.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		o.tracer = tracer
		return nil
	}
}

// Store implements store.Store against PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

var _ store.Store = (*Store)(nil)

// New creates a postgres store with the given options
func New(opts ...Option) (*Store, error) {
	o := &options{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	return &Store{pool: o.pool, tracer: o.tracer}, nil
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *Store) Close() {
	s.pool.Close()
}

// LoadDocument returns the presentation and its slides ordered by position
func (s *Store) LoadDocument(ctx context.Context, presentationID uuid.UUID) (*model.Document, error) {
	ctx, span := s.startSpan(ctx, "store.LoadDocument", trace.WithAttributes(otel.AttrPresentationID.String(presentationID.String())))
	defer span.End()

	p, err := getPresentation(ctx, s.pool, presentationID)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+slideColumns+` FROM slides WHERE presentation_id = $1 ORDER BY position`, presentationID)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to query slides: %w", err)
	}
	slides, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.Slide, error) {
		return scanSlide(row)
	})
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to scan slides: %w", err)
	}

	span.SetAttributes(otel.AttrResultCount.Int(len(slides)))
	return &model.Document{Presentation: p, Slides: slides}, nil
}

// GetPresentation returns a presentation by id
func (s *Store) GetPresentation(ctx context.Context, presentationID uuid.UUID) (*model.Presentation, error) {
	ctx, span := s.startSpan(ctx, "store.GetPresentation", trace.WithAttributes(otel.AttrPresentationID.String(presentationID.String())))
	defer span.End()

	p, err := getPresentation(ctx, s.pool, presentationID)
	otel.RecordError(span, ignoreNotFound(err))
	return p, err
}

// GetSlide returns a slide scoped to its presentation
func (s *Store) GetSlide(ctx context.Context, presentationID, slideID uuid.UUID) (*model.Slide, error) {
	ctx, span := s.startSpan(ctx, "store.GetSlide", slideAttrs(presentationID, slideID))
	defer span.End()

	sl, err := getSlide(ctx, s.pool, presentationID, slideID)
	otel.RecordError(span, ignoreNotFound(err))
	return sl, err
}

// UpdateSlide applies the allow-listed changes with a single conditional UPDATE
func (s *Store) UpdateSlide(
	ctx context.Context, presentationID, slideID uuid.UUID, expectedVersion int, changes model.Changes,
) (*model.Slide, error) {
	ctx, span := s.startSpan(ctx, "store.UpdateSlide", slideAttrs(presentationID, slideID),
		trace.WithAttributes(otel.AttrBaseVersion.Int(expectedVersion)))
	defer span.End()

	sets, args, err := setClause(changes, model.SlideField, presentationID, slideID, expectedVersion)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	query := `UPDATE slides SET ` + sets + ` WHERE presentation_id = $1 AND id = $2 AND version = $3
		RETURNING ` + slideColumns
	updated, err := scanSlide(s.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to update slide: %w", err)
	}

	current, err := getSlide(ctx, s.pool, presentationID, slideID)
	if err != nil {
		otel.RecordError(span, ignoreNotFound(err))
		return nil, err
	}
	return nil, &store.ConflictError{Current: current, Version: current.Version}
}

// UpdatePresentation applies the allow-listed changes with a single conditional UPDATE
func (s *Store) UpdatePresentation(
	ctx context.Context, presentationID uuid.UUID, expectedVersion int, changes model.Changes,
) (*model.Presentation, error) {
	ctx, span := s.startSpan(ctx, "store.UpdatePresentation",
		trace.WithAttributes(
			otel.AttrPresentationID.String(presentationID.String()),
			otel.AttrBaseVersion.Int(expectedVersion),
		))
	defer span.End()

	sets, args, err := setClause(changes, model.PresentationField, presentationID, expectedVersion)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	query := `UPDATE presentations SET ` + sets + ` WHERE id = $1 AND version = $2 RETURNING ` + presentationColumns
	updated, err := scanPresentation(s.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to update presentation: %w", err)
	}

	current, err := getPresentation(ctx, s.pool, presentationID)
	if err != nil {
		otel.RecordError(span, ignoreNotFound(err))
		return nil, err
	}
	return nil, &store.ConflictError{Current: current, Version: current.Version}
}

// DeleteSlide removes a slide with a conditional DELETE and closes the position gap
func (s *Store) DeleteSlide(ctx context.Context, presentationID, slideID uuid.UUID, expectedVersion int) error {
	ctx, span := s.startSpan(ctx, "store.DeleteSlide", slideAttrs(presentationID, slideID),
		trace.WithAttributes(otel.AttrBaseVersion.Int(expectedVersion)))
	defer span.End()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockPresentation(ctx, tx, presentationID); err != nil {
			return err
		}

		var position int
		err := tx.QueryRow(ctx,
			`DELETE FROM slides WHERE presentation_id = $1 AND id = $2 AND version = $3 RETURNING position`,
			presentationID, slideID, expectedVersion,
		).Scan(&position)
		if errors.Is(err, pgx.ErrNoRows) {
			current, getErr := getSlide(ctx, tx, presentationID, slideID)
			if getErr != nil {
				return getErr
			}
			return &store.ConflictError{Current: current, Version: current.Version}
		}
		if err != nil {
			return fmt.Errorf("failed to delete slide: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE slides SET position = position - 1 WHERE presentation_id = $1 AND position > $2`,
			presentationID, position,
		); err != nil {
			return fmt.Errorf("failed to shift slides: %w", err)
		}
		return nil
	})
	otel.RecordError(span, ignoreExpected(err))
	return err
}

// InsertSlide shifts slides at or after the clamped position and inserts the new slide there
func (s *Store) InsertSlide(
	ctx context.Context, presentationID uuid.UUID, position int, slide *model.Slide,
) (*model.Slide, error) {
	ctx, span := s.startSpan(ctx, "store.InsertSlide", trace.WithAttributes(
		otel.AttrPresentationID.String(presentationID.String()),
		otel.AttrPosition.Int(position),
	))
	defer span.End()

	var created *model.Slide
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockPresentation(ctx, tx, presentationID); err != nil {
			return err
		}

		var count int
		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM slides WHERE presentation_id = $1`, presentationID,
		).Scan(&count); err != nil {
			return fmt.Errorf("failed to count slides: %w", err)
		}
		position = store.ClampPosition(position, count)

		if _, err := tx.Exec(ctx,
			`UPDATE slides SET position = position + 1 WHERE presentation_id = $1 AND position >= $2`,
			presentationID, position,
		); err != nil {
			return fmt.Errorf("failed to shift slides: %w", err)
		}

		var err error
		created, err = insertSlide(ctx, tx, presentationID, position, slide)
		return err
	})
	if err != nil {
		otel.RecordError(span, ignoreNotFound(err))
		return nil, err
	}
	return created, nil
}

// ReorderSlides applies the orders in one transaction and rolls back unless positions stay dense
func (s *Store) ReorderSlides(ctx context.Context, presentationID uuid.UUID, orders []model.SlideOrder) error {
	ctx, span := s.startSpan(ctx, "store.ReorderSlides", trace.WithAttributes(
		otel.AttrPresentationID.String(presentationID.String()),
		otel.AttrResultCount.Int(len(orders)),
	))
	defer span.End()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockPresentation(ctx, tx, presentationID); err != nil {
			return err
		}

		for _, o := range orders {
			tag, err := tx.Exec(ctx,
				`UPDATE slides SET position = $3, updated_at = now() WHERE presentation_id = $1 AND id = $2`,
				presentationID, o.SlideID, o.NewPosition,
			)
			if err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == pgCheckViolation {
					return fmt.Errorf("%w: position %d is out of range", store.ErrInvalidReorder, o.NewPosition)
				}
				return fmt.Errorf("failed to move slide: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: slide %s is not part of presentation", store.ErrInvalidReorder, o.SlideID)
			}
		}

		var total, distinct, lowest, highest int
		if err := tx.QueryRow(ctx,
			`SELECT count(*), count(DISTINCT position), coalesce(min(position), 0), coalesce(max(position), -1)
			 FROM slides WHERE presentation_id = $1`, presentationID,
		).Scan(&total, &distinct, &lowest, &highest); err != nil {
			return fmt.Errorf("failed to verify positions: %w", err)
		}
		if total > 0 && (distinct != total || lowest != 0 || highest != total-1) {
			return fmt.Errorf("%w: positions must be a permutation of 0..%d", store.ErrInvalidReorder, total-1)
		}
		return nil
	})
	otel.RecordError(span, ignoreExpected(err))
	return err
}

// GetUser returns a user by id
func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	ctx, span := s.startSpan(ctx, "store.GetUser", trace.WithAttributes(otel.AttrUserID.String(userID.String())))
	defer span.End()

	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, avatar_url, is_active FROM users WHERE id = $1`, userID,
	).Scan(&u.ID, &u.Name, &u.AvatarURL, &u.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	}
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getPresentation(ctx context.Context, q querier, presentationID uuid.UUID) (*model.Presentation, error) {
	p, err := scanPresentation(q.QueryRow(ctx,
		`SELECT `+presentationColumns+` FROM presentations WHERE id = $1`, presentationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("presentation %s: %w", presentationID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presentation: %w", err)
	}
	return p, nil
}

func getSlide(ctx context.Context, q querier, presentationID, slideID uuid.UUID) (*model.Slide, error) {
	sl, err := scanSlide(q.QueryRow(ctx,
		`SELECT `+slideColumns+` FROM slides WHERE presentation_id = $1 AND id = $2`, presentationID, slideID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("slide %s: %w", slideID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slide: %w", err)
	}
	return sl, nil
}

func lockPresentation(ctx context.Context, tx pgx.Tx, presentationID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM presentations WHERE id = $1 FOR UPDATE`, presentationID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("presentation %s: %w", presentationID, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock presentation: %w", err)
	}
	return nil
}

func insertSlide(
	ctx context.Context, q querier, presentationID uuid.UUID, position int, slide *model.Slide,
) (*model.Slide, error) {
	id := slide.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	version := slide.Version
	if version == 0 {
		version = model.InitialVersion
	}
	created, err := scanSlide(q.QueryRow(ctx,
		`INSERT INTO slides (id, presentation_id, position, title, content, speaker_notes, image_prompt, image_url,
			image_task_id, image_storage_key, layout_type, alignment, font_scale, layout_variant, style_overrides, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 RETURNING `+slideColumns,
		id, presentationID, position, slide.Title, jsonArg(slide.Content), slide.SpeakerNotes, slide.ImagePrompt,
		slide.ImageURL, slide.ImageTaskID, slide.ImageStorageKey, orDefault(slide.LayoutType, model.DefaultLayoutType),
		orDefault(slide.Alignment, model.DefaultAlignment), slide.FontScale, slide.LayoutVariant,
		jsonArg(slide.StyleOverrides), version,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert slide: %w", err)
	}
	return created, nil
}

// setClause renders the SET list for changes. leading are bound first as $1..$n.
func setClause(
	changes model.Changes, lookup func(string) (model.Field, bool), leading ...any,
) (string, []any, error) {
	args := append([]any{}, leading...)
	sets := make([]string, 0, len(changes)+2)
	for _, name := range changes.Names() {
		if _, ok := lookup(name); !ok {
			return "", nil, fmt.Errorf("%w: %s is not a mutable field", model.ErrInvalidChange, name)
		}
		args = append(args, changes.Value(name))
		sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{name}.Sanitize(), len(args)))
	}
	sets = append(sets, "version = version + 1", "updated_at = now()")
	return strings.Join(sets, ", "), args, nil
}

func scanPresentation(row pgx.Row) (*model.Presentation, error) {
	var p model.Presentation
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Topic, &p.ThemeID, &p.VisualStyle, &p.WabiSabiLayout,
		&p.ThumbnailURL, &p.IsPublic, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanSlide(row pgx.Row) (*model.Slide, error) {
	var (
		sl             model.Slide
		content        []byte
		styleOverrides []byte
	)
	if err := row.Scan(&sl.ID, &sl.PresentationID, &sl.Position, &sl.Title, &content, &sl.SpeakerNotes,
		&sl.ImagePrompt, &sl.ImageURL, &sl.ImageTaskID, &sl.ImageStorageKey, &sl.LayoutType, &sl.Alignment,
		&sl.FontScale, &sl.LayoutVariant, &styleOverrides, &sl.Version, &sl.CreatedAt, &sl.UpdatedAt); err != nil {
		return nil, err
	}
	sl.Content = content
	sl.StyleOverrides = styleOverrides
	return &sl, nil
}

func slideAttrs(presentationID, slideID uuid.UUID) trace.SpanStartOption {
	return trace.WithAttributes(
		otel.AttrPresentationID.String(presentationID.String()),
		otel.AttrSlideID.String(slideID.String()),
	)
}

// jsonArg maps an empty document to SQL NULL
func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func ignoreNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// ignoreExpected drops outcomes that are part of normal operation from span errors
func ignoreExpected(err error) error {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrVersionConflict) ||
		errors.Is(err, store.ErrInvalidReorder) {
		return nil
	}
	return err
}

func (s *Store) startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	opts = append([]trace.SpanStartOption{trace.WithAttributes(semconv.DBSystemPostgreSQL)}, opts...)
	return otel.StartSpan(ctx, s.tracer, name, opts...)
}
