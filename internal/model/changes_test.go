package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawFields(t *testing.T, body string) map[string]json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(body), &m))
	return m
}

func TestFilterSlideChanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		expected Changes
		wantErr  bool
	}{
		{
			name:     "keeps allow-listed fields",
			body:     `{"title":"Q3 Plan","speaker_notes":"intro"}`,
			expected: Changes{"title": json.RawMessage(`"Q3 Plan"`), "speaker_notes": json.RawMessage(`"intro"`)},
		},
		{
			name:     "drops unknown and protected fields",
			body:     `{"title":"x","version":99,"position":3,"image_url":"http://evil","id":"abc"}`,
			expected: Changes{"title": json.RawMessage(`"x"`)},
		},
		{
			name:     "compacts json fields",
			body:     `{"content":[ "a", "b" ],"style_overrides":{ "color" : "red" }}`,
			expected: Changes{"content": json.RawMessage(`["a","b"]`), "style_overrides": json.RawMessage(`{"color":"red"}`)},
		},
		{
			name:     "null clears nullable text",
			body:     `{"speaker_notes":null}`,
			expected: Changes{"speaker_notes": json.RawMessage(`null`)},
		},
		{
			name:     "null layout falls back to default",
			body:     `{"layout_type":null,"alignment":""}`,
			expected: Changes{"layout_type": json.RawMessage(`"split"`), "alignment": json.RawMessage(`"left"`)},
		},
		{
			name:    "rejects non-string text",
			body:    `{"title":42}`,
			wantErr: true,
		},
		{
			name:     "empty body yields no changes",
			body:     `{}`,
			expected: Changes{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := FilterSlideChanges(rawFields(t, tt.body))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidChange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFilterPresentationChanges(t *testing.T) {
	t.Parallel()

	got, err := FilterPresentationChanges(rawFields(t, `{"topic":"Roadmap","theme_id":"dark","owner_id":"x","is_public":true}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"theme_id", "topic"}, got.Names())

	_, err = FilterPresentationChanges(rawFields(t, `{"topic":null}`))
	require.ErrorIs(t, err, ErrInvalidChange)

	_, err = FilterPresentationChanges(rawFields(t, `{"topic":""}`))
	require.ErrorIs(t, err, ErrInvalidChange)
}

func TestChanges_ApplyToSlide(t *testing.T) {
	t.Parallel()

	notes := "old notes"
	s := &Slide{LayoutType: "title", Alignment: "center", SpeakerNotes: &notes, Version: 4}

	changes, err := FilterSlideChanges(rawFields(t, `{"title":"Q3 Plan","speaker_notes":null,"layout_type":null,"content":["x"]}`))
	require.NoError(t, err)

	changes.ApplyToSlide(s)

	require.NotNil(t, s.Title)
	assert.Equal(t, "Q3 Plan", *s.Title)
	assert.Nil(t, s.SpeakerNotes)
	assert.Equal(t, DefaultLayoutType, s.LayoutType)
	assert.Equal(t, "center", s.Alignment)
	assert.JSONEq(t, `["x"]`, string(s.Content))
	assert.Equal(t, 4, s.Version, "applying changes must not bump the version")
}

func TestChanges_ApplyToPresentation(t *testing.T) {
	t.Parallel()

	p := &Presentation{Topic: "Old", Version: 2}
	changes, err := FilterPresentationChanges(rawFields(t, `{"topic":"New","visual_style":"minimal"}`))
	require.NoError(t, err)

	changes.ApplyToPresentation(p)

	assert.Equal(t, "New", p.Topic)
	require.NotNil(t, p.VisualStyle)
	assert.Equal(t, "minimal", *p.VisualStyle)
	assert.Equal(t, 2, p.Version)
}

func TestChanges_Value(t *testing.T) {
	t.Parallel()

	changes := Changes{
		"title":      json.RawMessage(`"hello"`),
		"content":    json.RawMessage(`[1,2]`),
		"font_scale": json.RawMessage(`null`),
	}

	title, ok := changes.Value("title").(*string)
	require.True(t, ok)
	assert.Equal(t, "hello", *title)
	assert.Equal(t, []byte(`[1,2]`), changes.Value("content"))
	assert.Nil(t, changes.Value("font_scale"))
	assert.Nil(t, changes.Value("missing"))
}

func TestSlideFromData(t *testing.T) {
	t.Parallel()

	s, err := SlideFromData(rawFields(t, `{"title":"New","version":7,"position":9}`))
	require.NoError(t, err)

	require.NotNil(t, s.Title)
	assert.Equal(t, "New", *s.Title)
	assert.Equal(t, InitialVersion, s.Version)
	assert.Equal(t, 0, s.Position)
	assert.Equal(t, DefaultLayoutType, s.LayoutType)
	assert.Equal(t, DefaultAlignment, s.Alignment)
	assert.JSONEq(t, `[]`, string(s.Content))
}

func TestSlide_Summary(t *testing.T) {
	t.Parallel()

	url := "data:image/png;base64,AAAA"
	s := &Slide{ImageURL: &url, Version: 3}
	summary := s.Summary()
	assert.True(t, summary.HasImage)
	assert.Equal(t, 3, summary.Version)

	empty := ""
	assert.False(t, (&Slide{ImageURL: &empty}).Summary().HasImage)
	assert.False(t, (&Slide{}).Summary().HasImage)

	data, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "image_url")
}
