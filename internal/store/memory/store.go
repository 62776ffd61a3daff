// Package memory provides an in-process implementation of store.Store.
// It is used for single instance deployments without a database and in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/decksnap/decksnap-sync/internal/model"
	"github.com/decksnap/decksnap-sync/internal/store"
)

// Store implements store.Store with maps guarded by a single mutex.
// The seeding methods are not part of store.Store.
type Store struct {
	mu            sync.RWMutex // Protects users, presentations, slides
	users         map[uuid.UUID]model.User
	presentations map[uuid.UUID]model.Presentation
	slides        map[uuid.UUID][]model.Slide // per presentation, ordered by position

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Option is a functional option for configuring the Store
type Option func(*Store)

// WithClock overrides the time source used for created_at and updated_at
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty in-memory store
func New(opts ...Option) *Store {
	s := &Store{
		users:         make(map[uuid.UUID]model.User),
		presentations: make(map[uuid.UUID]model.Presentation),
		slides:        make(map[uuid.UUID][]model.Slide),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeedUser stores or replaces a user
func (s *Store) SeedUser(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

// SeedPresentation stores a presentation with its slides. Slide positions and
// presentation ids are normalized from the argument order.
func (s *Store) SeedPresentation(
	ctx context.Context, p model.Presentation, slides ...model.Slide,
) (*model.Document, error) {
	return s.LoadDocument(ctx, s.seed(p, slides))
}

func (s *Store) seed(p model.Presentation, slides []model.Slide) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if p.Version == 0 {
		p.Version = model.InitialVersion
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt, p.UpdatedAt = now, now
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.presentations[p.ID] = p

	list := make([]model.Slide, 0, len(slides))
	for i, sl := range slides {
		if sl.ID == uuid.Nil {
			sl.ID = uuid.New()
		}
		sl.PresentationID = p.ID
		sl.Position = i
		if sl.Version == 0 {
			sl.Version = model.InitialVersion
		}
		if sl.LayoutType == "" {
			sl.LayoutType = model.DefaultLayoutType
		}
		if sl.Alignment == "" {
			sl.Alignment = model.DefaultAlignment
		}
		if sl.CreatedAt.IsZero() {
			sl.CreatedAt, sl.UpdatedAt = now, now
		}
		list = append(list, sl)
	}
	s.slides[p.ID] = list
	return p.ID
}

// Ping always succeeds
func (*Store) Ping(context.Context) error { return nil }

// Close is a no-op
func (*Store) Close() {}

// LoadDocument returns copies of the presentation and its ordered slides
func (s *Store) LoadDocument(_ context.Context, presentationID uuid.UUID) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.presentations[presentationID]
	if !ok {
		return nil, fmt.Errorf("presentation %s: %w", presentationID, store.ErrNotFound)
	}

	list := s.slides[presentationID]
	slides := make([]*model.Slide, 0, len(list))
	for i := range list {
		sl := list[i]
		slides = append(slides, &sl)
	}
	return &model.Document{Presentation: &p, Slides: slides}, nil
}

// GetPresentation returns a copy of the presentation
func (s *Store) GetPresentation(_ context.Context, presentationID uuid.UUID) (*model.Presentation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.presentations[presentationID]
	if !ok {
		return nil, fmt.Errorf("presentation %s: %w", presentationID, store.ErrNotFound)
	}
	return &p, nil
}

// GetSlide returns a copy of the slide if it belongs to the presentation
func (s *Store) GetSlide(_ context.Context, presentationID, slideID uuid.UUID) (*model.Slide, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(presentationID, slideID)
	if idx < 0 {
		return nil, fmt.Errorf("slide %s: %w", slideID, store.ErrNotFound)
	}
	sl := s.slides[presentationID][idx]
	return &sl, nil
}

// UpdateSlide performs the version compare-and-set under the write lock
func (s *Store) UpdateSlide(
	_ context.Context, presentationID, slideID uuid.UUID, expectedVersion int, changes model.Changes,
) (*model.Slide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(presentationID, slideID)
	if idx < 0 {
		return nil, fmt.Errorf("slide %s: %w", slideID, store.ErrNotFound)
	}

	current := s.slides[presentationID][idx]
	if current.Version != expectedVersion {
		return nil, &store.ConflictError{Current: &current, Version: current.Version}
	}

	updated := current
	changes.ApplyToSlide(&updated)
	updated.Version++
	updated.UpdatedAt = s.now()
	s.slides[presentationID][idx] = updated
	return &updated, nil
}

// UpdatePresentation performs the version compare-and-set under the write lock
func (s *Store) UpdatePresentation(
	_ context.Context, presentationID uuid.UUID, expectedVersion int, changes model.Changes,
) (*model.Presentation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.presentations[presentationID]
	if !ok {
		return nil, fmt.Errorf("presentation %s: %w", presentationID, store.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return nil, &store.ConflictError{Current: &current, Version: current.Version}
	}

	updated := current
	changes.ApplyToPresentation(&updated)
	updated.Version++
	updated.UpdatedAt = s.now()
	s.presentations[presentationID] = updated
	return &updated, nil
}

// DeleteSlide removes the slide and renumbers the ones after it
func (s *Store) DeleteSlide(_ context.Context, presentationID, slideID uuid.UUID, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(presentationID, slideID)
	if idx < 0 {
		return fmt.Errorf("slide %s: %w", slideID, store.ErrNotFound)
	}

	list := s.slides[presentationID]
	current := list[idx]
	if current.Version != expectedVersion {
		return &store.ConflictError{Current: &current, Version: current.Version}
	}

	list = append(list[:idx], list[idx+1:]...)
	renumber(list)
	s.slides[presentationID] = list
	return nil
}

// InsertSlide places a copy of slide at the clamped position
func (s *Store) InsertSlide(
	_ context.Context, presentationID uuid.UUID, position int, slide *model.Slide,
) (*model.Slide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presentations[presentationID]; !ok {
		return nil, fmt.Errorf("presentation %s: %w", presentationID, store.ErrNotFound)
	}

	list := s.slides[presentationID]
	position = store.ClampPosition(position, len(list))

	now := s.now()
	created := *slide
	created.ID = uuid.New()
	created.PresentationID = presentationID
	created.Version = model.InitialVersion
	created.CreatedAt, created.UpdatedAt = now, now

	list = append(list, model.Slide{})
	copy(list[position+1:], list[position:])
	list[position] = created
	renumber(list)
	s.slides[presentationID] = list

	out := list[position]
	return &out, nil
}

// ReorderSlides validates the resulting order before committing it
func (s *Store) ReorderSlides(_ context.Context, presentationID uuid.UUID, orders []model.SlideOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presentations[presentationID]; !ok {
		return fmt.Errorf("presentation %s: %w", presentationID, store.ErrNotFound)
	}

	list := s.slides[presentationID]
	next := make([]model.Slide, len(list))
	copy(next, list)

	positions := make(map[uuid.UUID]int, len(next))
	for i := range next {
		positions[next[i].ID] = i
	}
	for _, o := range orders {
		i, ok := positions[o.SlideID]
		if !ok {
			return fmt.Errorf("%w: slide %s is not part of presentation", store.ErrInvalidReorder, o.SlideID)
		}
		next[i].Position = o.NewPosition
	}

	if err := checkDense(next); err != nil {
		return err
	}

	now := s.now()
	for _, o := range orders {
		next[positions[o.SlideID]].UpdatedAt = now
	}
	sort.Slice(next, func(a, b int) bool { return next[a].Position < next[b].Position })
	s.slides[presentationID] = next
	return nil
}

// GetUser returns a copy of the user
func (s *Store) GetUser(_ context.Context, userID uuid.UUID) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	}
	return &u, nil
}

// indexOf returns the index of the slide in its presentation or -1.
// Caller must hold s.mu.
func (s *Store) indexOf(presentationID, slideID uuid.UUID) int {
	for i, sl := range s.slides[presentationID] {
		if sl.ID == slideID {
			return i
		}
	}
	return -1
}

func renumber(list []model.Slide) {
	for i := range list {
		list[i].Position = i
	}
}

func checkDense(list []model.Slide) error {
	seen := make([]bool, len(list))
	for _, sl := range list {
		if sl.Position < 0 || sl.Position >= len(list) || seen[sl.Position] {
			return fmt.Errorf("%w: positions must be a permutation of 0..%d", store.ErrInvalidReorder, len(list)-1)
		}
		seen[sl.Position] = true
	}
	return nil
}
