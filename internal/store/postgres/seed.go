package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/decksnap/decksnap-sync/internal/model"
)

// SeedUser inserts or updates a user row. It is used by tests and local tooling.
func (s *Store) SeedUser(ctx context.Context, u model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, avatar_url, is_active) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, avatar_url = EXCLUDED.avatar_url,
			is_active = EXCLUDED.is_active`,
		u.ID, u.Name, u.AvatarURL, u.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to seed user: %w", err)
	}
	return nil
}

// SeedPresentation inserts a presentation and its slides in argument order.
func (s *Store) SeedPresentation(
	ctx context.Context, p model.Presentation, slides ...model.Slide,
) (*model.Document, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Version == 0 {
		p.Version = model.InitialVersion
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO presentations (id, owner_id, topic, theme_id, visual_style, wabi_sabi_layout,
				thumbnail_url, is_public, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			p.ID, p.OwnerID, p.Topic, p.ThemeID, p.VisualStyle, p.WabiSabiLayout, p.ThumbnailURL, p.IsPublic, p.Version,
		); err != nil {
			return fmt.Errorf("failed to seed presentation: %w", err)
		}
		for i := range slides {
			if _, err := insertSlide(ctx, tx, p.ID, i, &slides[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.LoadDocument(ctx, p.ID)
}
