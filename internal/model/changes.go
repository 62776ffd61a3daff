package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidChange is returned when an allow-listed field carries a value of the wrong shape
var ErrInvalidChange = errors.New("invalid change")

// FieldKind describes how a mutable field is encoded
type FieldKind int

const (
	// KindText is a nullable string column
	KindText FieldKind = iota
	// KindJSON is an arbitrary JSON document column
	KindJSON
)

// Field is one client-mutable attribute of an entity. The name doubles as column name.
type Field struct {
	Name string
	Kind FieldKind
	// Default replaces a null for non-nullable text columns.
	Default string
	// Required fields reject null and empty values.
	Required bool
}

// SlideFields is the allow-list of slide attributes clients may change.
var SlideFields = []Field{
	{Name: "title", Kind: KindText},
	{Name: "content", Kind: KindJSON},
	{Name: "speaker_notes", Kind: KindText},
	{Name: "image_prompt", Kind: KindText},
	{Name: "layout_type", Kind: KindText, Default: DefaultLayoutType},
	{Name: "alignment", Kind: KindText, Default: DefaultAlignment},
	{Name: "font_scale", Kind: KindText},
	{Name: "layout_variant", Kind: KindText},
	{Name: "style_overrides", Kind: KindJSON},
}

// PresentationFields is the allow-list of presentation attributes clients may change.
var PresentationFields = []Field{
	{Name: "topic", Kind: KindText, Required: true},
	{Name: "theme_id", Kind: KindText},
	{Name: "visual_style", Kind: KindText},
	{Name: "wabi_sabi_layout", Kind: KindText},
}

var (
	slideFieldIndex        = indexFields(SlideFields)
	presentationFieldIndex = indexFields(PresentationFields)
)

func indexFields(fields []Field) map[string]Field {
	idx := make(map[string]Field, len(fields))
	for _, f := range fields {
		idx[f.Name] = f
	}
	return idx
}

// SlideField looks up an allow-listed slide field by name
func SlideField(name string) (Field, bool) {
	f, ok := slideFieldIndex[name]
	return f, ok
}

// PresentationField looks up an allow-listed presentation field by name
func PresentationField(name string) (Field, bool) {
	f, ok := presentationFieldIndex[name]
	return f, ok
}

// Changes is a validated set of allow-listed field updates keyed by field name.
type Changes map[string]json.RawMessage

// Names returns the changed field names in a stable order
func (c Changes) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FilterSlideChanges keeps only allow-listed slide fields. Unknown fields are dropped silently.
func FilterSlideChanges(raw map[string]json.RawMessage) (Changes, error) {
	return filterChanges(slideFieldIndex, raw)
}

// FilterPresentationChanges keeps only allow-listed presentation fields.
func FilterPresentationChanges(raw map[string]json.RawMessage) (Changes, error) {
	return filterChanges(presentationFieldIndex, raw)
}

func filterChanges(index map[string]Field, raw map[string]json.RawMessage) (Changes, error) {
	out := make(Changes, len(raw))
	for name, value := range raw {
		field, ok := index[name]
		if !ok {
			continue
		}
		normalized, err := normalize(field, value)
		if err != nil {
			return nil, err
		}
		out[name] = normalized
	}
	return out, nil
}

func normalize(f Field, value json.RawMessage) (json.RawMessage, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 || isNull(value) {
		if f.Required {
			return nil, fmt.Errorf("%w: %s cannot be null", ErrInvalidChange, f.Name)
		}
		if f.Kind == KindText && f.Default != "" {
			return json.Marshal(f.Default)
		}
		return json.RawMessage("null"), nil
	}

	switch f.Kind {
	case KindText:
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidChange, f.Name)
		}
		if s == "" && f.Default != "" {
			s = f.Default
		}
		if s == "" && f.Required {
			return nil, fmt.Errorf("%w: %s cannot be empty", ErrInvalidChange, f.Name)
		}
		return json.Marshal(s)
	case KindJSON:
		if !json.Valid(value) {
			return nil, fmt.Errorf("%w: %s is not valid JSON", ErrInvalidChange, f.Name)
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, value); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidChange, f.Name, err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported field kind for %s", ErrInvalidChange, f.Name)
	}
}

func isNull(v json.RawMessage) bool {
	return string(v) == "null"
}

// Value returns the column value for a changed field: *string for text, []byte for JSON and nil for null.
func (c Changes) Value(name string) any {
	raw, ok := c[name]
	if !ok || isNull(raw) {
		return nil
	}
	if f, ok := slideFieldIndex[name]; ok && f.Kind == KindJSON {
		return []byte(raw)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

func (c Changes) text(name string) *string {
	v, _ := c.Value(name).(*string)
	return v
}

func (c Changes) raw(name string) json.RawMessage {
	raw, ok := c[name]
	if !ok || isNull(raw) {
		return nil
	}
	return raw
}

// ApplyToSlide writes the changes onto s. It does not touch the version.
func (c Changes) ApplyToSlide(s *Slide) {
	for name := range c {
		switch name {
		case "title":
			s.Title = c.text(name)
		case "content":
			s.Content = c.raw(name)
		case "speaker_notes":
			s.SpeakerNotes = c.text(name)
		case "image_prompt":
			s.ImagePrompt = c.text(name)
		case "layout_type":
			s.LayoutType = deref(c.text(name), DefaultLayoutType)
		case "alignment":
			s.Alignment = deref(c.text(name), DefaultAlignment)
		case "font_scale":
			s.FontScale = c.text(name)
		case "layout_variant":
			s.LayoutVariant = c.text(name)
		case "style_overrides":
			s.StyleOverrides = c.raw(name)
		}
	}
}

// ApplyToPresentation writes the changes onto p. It does not touch the version.
func (c Changes) ApplyToPresentation(p *Presentation) {
	for name := range c {
		switch name {
		case "topic":
			p.Topic = deref(c.text(name), "")
		case "theme_id":
			p.ThemeID = c.text(name)
		case "visual_style":
			p.VisualStyle = c.text(name)
		case "wabi_sabi_layout":
			p.WabiSabiLayout = c.text(name)
		}
	}
}

func deref(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

// SlideFromData builds a new, unpersisted slide from client supplied creation data.
// Only allow-listed fields are taken from data.
func SlideFromData(data map[string]json.RawMessage) (*Slide, error) {
	changes, err := FilterSlideChanges(data)
	if err != nil {
		return nil, err
	}
	s := &Slide{
		LayoutType: DefaultLayoutType,
		Alignment:  DefaultAlignment,
		Version:    InitialVersion,
	}
	changes.ApplyToSlide(s)
	if s.Content == nil {
		s.Content = json.RawMessage("[]")
	}
	return s, nil
}
