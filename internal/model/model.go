// Package model defines the persisted document types shared by the store,
// the sync handler and the wire protocol.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLayoutType is the layout a slide gets when none is set
	DefaultLayoutType = "split"
	// DefaultAlignment is the alignment a slide gets when none is set
	DefaultAlignment = "left"
	// InitialVersion is the version of every newly created entity
	InitialVersion = 1
)

// Presentation is the document-level entity. Every slide belongs to exactly one presentation.
type Presentation struct {
	ID             uuid.UUID `json:"id"`
	OwnerID        uuid.UUID `json:"owner_id"`
	Topic          string    `json:"topic"`
	ThemeID        *string   `json:"theme_id"`
	VisualStyle    *string   `json:"visual_style"`
	WabiSabiLayout *string   `json:"wabi_sabi_layout"`
	ThumbnailURL   *string   `json:"thumbnail_url"`
	IsPublic       bool      `json:"is_public"`
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Slide is a single positioned slide within a presentation.
type Slide struct {
	ID              uuid.UUID       `json:"id"`
	PresentationID  uuid.UUID       `json:"presentation_id"`
	Position        int             `json:"position"`
	Title           *string         `json:"title"`
	Content         json.RawMessage `json:"content"`
	SpeakerNotes    *string         `json:"speaker_notes"`
	ImagePrompt     *string         `json:"image_prompt"`
	ImageURL        *string         `json:"image_url"`
	ImageTaskID     *string         `json:"image_task_id"`
	ImageStorageKey *string         `json:"image_storage_key"`
	LayoutType      string          `json:"layout_type"`
	Alignment       string          `json:"alignment"`
	FontScale       *string         `json:"font_scale"`
	LayoutVariant   *string         `json:"layout_variant"`
	StyleOverrides  json.RawMessage `json:"style_overrides"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SlideSummary is the representation of a slide sent in the initial sync state.
// The image itself is replaced by a flag because inline image data can exceed frame limits.
type SlideSummary struct {
	ID              uuid.UUID       `json:"id"`
	PresentationID  uuid.UUID       `json:"presentation_id"`
	Position        int             `json:"position"`
	Title           *string         `json:"title"`
	Content         json.RawMessage `json:"content"`
	SpeakerNotes    *string         `json:"speaker_notes"`
	ImagePrompt     *string         `json:"image_prompt"`
	HasImage        bool            `json:"has_image"`
	ImageTaskID     *string         `json:"image_task_id"`
	ImageStorageKey *string         `json:"image_storage_key"`
	LayoutType      string          `json:"layout_type"`
	Alignment       string          `json:"alignment"`
	FontScale       *string         `json:"font_scale"`
	LayoutVariant   *string         `json:"layout_variant"`
	StyleOverrides  json.RawMessage `json:"style_overrides"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Summary returns the slide without its image reference.
func (s *Slide) Summary() SlideSummary {
	return SlideSummary{
		ID:              s.ID,
		PresentationID:  s.PresentationID,
		Position:        s.Position,
		Title:           s.Title,
		Content:         s.Content,
		SpeakerNotes:    s.SpeakerNotes,
		ImagePrompt:     s.ImagePrompt,
		HasImage:        s.ImageURL != nil && *s.ImageURL != "",
		ImageTaskID:     s.ImageTaskID,
		ImageStorageKey: s.ImageStorageKey,
		LayoutType:      s.LayoutType,
		Alignment:       s.Alignment,
		FontScale:       s.FontScale,
		LayoutVariant:   s.LayoutVariant,
		StyleOverrides:  s.StyleOverrides,
		Version:         s.Version,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

// Document is a presentation together with its slides ordered by position.
type Document struct {
	Presentation *Presentation
	Slides       []*Slide
}

// User is the identity of an authenticated collaborator
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AvatarURL *string   `json:"avatar_url"`
	IsActive  bool      `json:"-"`
}

// ActiveUser is one entry of a room's presence list.
type ActiveUser struct {
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	AvatarURL *string   `json:"avatar_url"`
}

// SlideOrder moves one slide to a new position.
type SlideOrder struct {
	SlideID     uuid.UUID `json:"slide_id"`
	NewPosition int       `json:"new_position"`
}
