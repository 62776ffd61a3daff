// Package storetest holds the behavioural test suite every store.Store implementation must pass.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decksnap/decksnap-sync/internal/model"
	"github.com/decksnap/decksnap-sync/internal/store"
)

// Seeder creates fixtures directly in the backing storage.
type Seeder interface {
	SeedUser(ctx context.Context, u model.User) error
	SeedPresentation(ctx context.Context, p model.Presentation, slides ...model.Slide) (*model.Document, error)
}

// SeededStore is a store that can also create fixtures.
type SeededStore interface {
	store.Store
	Seeder
}

// Factory returns a fresh, empty store for one test.
type Factory func(t *testing.T) SeededStore

func title(s string) *string { return &s }

func changes(t *testing.T, body string) model.Changes {
	t.Helper()
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(body), &raw))
	c, err := model.FilterSlideChanges(raw)
	require.NoError(t, err)
	return c
}

func seedDeck(t *testing.T, s SeededStore, titles ...string) *model.Document {
	t.Helper()
	ctx := context.Background()

	owner := model.User{ID: uuid.New(), Name: "Owner", IsActive: true}
	require.NoError(t, s.SeedUser(ctx, owner))

	slides := make([]model.Slide, 0, len(titles))
	for _, tt := range titles {
		slides = append(slides, model.Slide{Title: title(tt), Content: json.RawMessage(`[]`)})
	}
	doc, err := s.SeedPresentation(ctx, model.Presentation{ID: uuid.New(), OwnerID: owner.ID, Topic: "Deck"}, slides...)
	require.NoError(t, err)
	require.Len(t, doc.Slides, len(titles))
	return doc
}

func titlesOf(t *testing.T, s store.Store, presentationID uuid.UUID) []string {
	t.Helper()
	doc, err := s.LoadDocument(context.Background(), presentationID)
	require.NoError(t, err)

	out := make([]string, 0, len(doc.Slides))
	for i, sl := range doc.Slides {
		require.Equal(t, i, sl.Position, "positions must be dense and ordered")
		if sl.Title == nil {
			out = append(out, "")
			continue
		}
		out = append(out, *sl.Title)
	}
	return out
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("LoadDocument", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		doc := seedDeck(t, s, "A", "B", "C")

		assert.Equal(t, []string{"A", "B", "C"}, titlesOf(t, s, doc.Presentation.ID))

		_, err := s.LoadDocument(context.Background(), uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("GetSlide is scoped to its presentation", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		first := seedDeck(t, s, "A")
		second := seedDeck(t, s, "B")

		got, err := s.GetSlide(context.Background(), first.Presentation.ID, first.Slides[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "A", *got.Title)

		_, err = s.GetSlide(context.Background(), first.Presentation.ID, second.Slides[0].ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("UpdateSlide bumps version once per update", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		doc := seedDeck(t, s, "Intro")
		slide := doc.Slides[0]
		ctx := context.Background()

		version := slide.Version
		for i := 0; i < 5; i++ {
			updated, err := s.UpdateSlide(ctx, doc.Presentation.ID, slide.ID, version, changes(t, `{"title":"Q3 Plan"}`))
			require.NoError(t, err)
			assert.Equal(t, version+1, updated.Version)
			assert.Equal(t, "Q3 Plan", *updated.Title)
			version = updated.Version
		}
		assert.Equal(t, slide.Version+5, version)

		stored, err := s.GetSlide(ctx, doc.Presentation.ID, slide.ID)
		require.NoError(t, err)
		assert.Equal(t, version, stored.Version)
	})

	t.Run("UpdateSlide with stale version conflicts", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		doc := seedDeck(t, s, "Intro")
		slide := doc.Slides[0]
		ctx := context.Background()

		_, err := s.UpdateSlide(ctx, doc.Presentation.ID, slide.ID, slide.Version, changes(t, `{"title":"Q3 Plan"}`))
		require.NoError(t, err)

		_, err = s.UpdateSlide(ctx, doc.Presentation.ID, slide.ID, slide.Version, changes(t, `{"title":"Q4 Plan"}`))
		require.ErrorIs(t, err, store.ErrVersionConflict)

		var conflict *store.ConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, slide.Version+1, conflict.Version)
		current, ok := conflict.Current.(*model.Slide)
		require.True(t, ok)
		assert.Equal(t, "Q3 Plan", *current.Title)
	})

	t.Run("UpdateSlide on missing slide", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		doc := seedDeck(t, s, "Intro")

		_, err := s.UpdateSlide(context.Background(), doc.Presentation.ID, uuid.New(), 1, changes(t, `{"title":"x"}`))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("concurrent updates with the same base version", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		doc := seedDeck(t, s, "Intro")
		slide := doc.Slides[0]

		const writers = 8
		update := changes(t, `{"title":"racer"}`)
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdateSlide(context.Background(), doc.Presentation.ID, slide.ID, slide.Version, update)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, store.ErrVersionConflict):
					conflicts++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, writers-1, conflicts)

		stored, err := s.GetSlide(context.Background(), doc.Presentation.ID, slide.ID)
		require.NoError(t, err)
		assert.Equal(t, slide.Version+1, stored.Version)
	})

	t.Run("UpdatePresentation", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		doc := seedDeck(t, s)
		ctx := context.Background()

		raw := map[string]json.RawMessage{"topic": json.RawMessage(`"Roadmap"`)}
		c, err := model.FilterPresentationChanges(raw)
		require.NoError(t, err)

		updated, err := s.UpdatePresentation(ctx, doc.Presentation.ID, doc.Presentation.Version, c)
		require.NoError(t, err)
		assert.Equal(t, doc.Presentation.Version+1, updated.Version)
		assert.Equal(t, "Roadmap", updated.Topic)

		_, err = s.UpdatePresentation(ctx, doc.Presentation.ID, doc.Presentation.Version, c)
		var conflict *store.ConflictError
		require.True(t, errors.As(err, &conflict))
		current, ok := conflict.Current.(*model.Presentation)
		require.True(t, ok)
		assert.Equal(t, updated.Version, current.Version)

		_, err = s.UpdatePresentation(ctx, uuid.New(), 1, c)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("InsertSlide shifts following slides", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		doc := seedDeck(t, s, "A", "B", "C")
		ctx := context.Background()

		created, err := s.InsertSlide(ctx, doc.Presentation.ID, 1, &model.Slide{
			Title: title("New"), LayoutType: model.DefaultLayoutType, Alignment: model.DefaultAlignment,
			Content: json.RawMessage(`[]`),
		})
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, created.ID)
		assert.Equal(t, model.InitialVersion, created.Version)
		assert.Equal(t, 1, created.Position)
		assert.Equal(t, doc.Presentation.ID, created.PresentationID)

		assert.Equal(t, []string{"A", "New", "B", "C"}, titlesOf(t, s, doc.Presentation.ID))
	})

	t.Run("InsertSlide clamps out of range positions", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		doc := seedDeck(t, s, "A", "B")
		ctx := context.Background()

		newSlide := func(name string) *model.Slide {
			return &model.Slide{Title: title(name), LayoutType: model.DefaultLayoutType,
				Alignment: model.DefaultAlignment, Content: json.RawMessage(`[]`)}
		}

		end, err := s.InsertSlide(ctx, doc.Presentation.ID, 99, newSlide("End"))
		require.NoError(t, err)
		assert.Equal(t, 2, end.Position)

		start, err := s.InsertSlide(ctx, doc.Presentation.ID, -4, newSlide("Start"))
		require.NoError(t, err)
		assert.Equal(t, 0, start.Position)

		assert.Equal(t, []string{"Start", "A", "B", "End"}, titlesOf(t, s, doc.Presentation.ID))
	})

	t.Run("InsertSlide into missing presentation", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)

		_, err := s.InsertSlide(context.Background(), uuid.New(), 0, &model.Slide{
			LayoutType: model.DefaultLayoutType, Alignment: model.DefaultAlignment,
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("DeleteSlide closes the gap", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		doc := seedDeck(t, s, "A", "B", "C")
		ctx := context.Background()

		require.NoError(t, s.DeleteSlide(ctx, doc.Presentation.ID, doc.Slides[1].ID, doc.Slides[1].Version))
		assert.Equal(t, []string{"A", "C"}, titlesOf(t, s, doc.Presentation.ID))

		err := s.DeleteSlide(ctx, doc.Presentation.ID, doc.Slides[1].ID, doc.Slides[1].Version)
		assert.ErrorIs(t, err, store.ErrNotFound, "second delete reports the slide as gone")
	})

	t.Run("DeleteSlide with stale version conflicts", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		doc := seedDeck(t, s, "A", "B")
		ctx := context.Background()
		slide := doc.Slides[0]

		_, err := s.UpdateSlide(ctx, doc.Presentation.ID, slide.ID, slide.Version, changes(t, `{"title":"A2"}`))
		require.NoError(t, err)

		err = s.DeleteSlide(ctx, doc.Presentation.ID, slide.ID, slide.Version)
		var conflict *store.ConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, slide.Version+1, conflict.Version)
		assert.Equal(t, []string{"A2", "B"}, titlesOf(t, s, doc.Presentation.ID))
	})

	t.Run("ReorderSlides applies a permutation", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		doc := seedDeck(t, s, "A", "B", "C")
		ctx := context.Background()

		err := s.ReorderSlides(ctx, doc.Presentation.ID, []model.SlideOrder{
			{SlideID: doc.Slides[0].ID, NewPosition: 2},
			{SlideID: doc.Slides[2].ID, NewPosition: 0},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"C", "B", "A"}, titlesOf(t, s, doc.Presentation.ID))

		moved, err := s.GetSlide(ctx, doc.Presentation.ID, doc.Slides[0].ID)
		require.NoError(t, err)
		assert.Equal(t, doc.Slides[0].Version, moved.Version, "reorder does not bump slide versions")
	})

	t.Run("ReorderSlides rejects gaps and collisions", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		doc := seedDeck(t, s, "A", "B", "C")
		ctx := context.Background()

		tests := []struct {
			name   string
			orders []model.SlideOrder
		}{
			{name: "collision", orders: []model.SlideOrder{{SlideID: doc.Slides[0].ID, NewPosition: 1}}},
			{name: "out of range", orders: []model.SlideOrder{
				{SlideID: doc.Slides[0].ID, NewPosition: 3},
			}},
			{name: "foreign slide", orders: []model.SlideOrder{{SlideID: uuid.New(), NewPosition: 0}}},
		}
		for _, tt := range tests {
			err := s.ReorderSlides(ctx, doc.Presentation.ID, tt.orders)
			assert.ErrorIs(t, err, store.ErrInvalidReorder, tt.name)
		}

		assert.Equal(t, []string{"A", "B", "C"}, titlesOf(t, s, doc.Presentation.ID), "rejected reorders apply nothing")
	})

	t.Run("GetUser", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		avatar := "https://avatars/1.png"
		u := model.User{ID: uuid.New(), Name: "Ada", AvatarURL: &avatar, IsActive: true}
		require.NoError(t, s.SeedUser(ctx, u))

		got, err := s.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ada", got.Name)
		assert.True(t, got.IsActive)
		require.NotNil(t, got.AvatarURL)
		assert.Equal(t, avatar, *got.AvatarURL)

		_, err = s.GetUser(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
