package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ImageGenerating reports that an image task started for a slide.
type ImageGenerating struct {
	Header
	SlideID uuid.UUID `json:"slide_id"`
	TaskID  string    `json:"task_id"`
}

// ImageCompleted reports a finished image for a slide.
type ImageCompleted struct {
	Header
	SlideID         uuid.UUID `json:"slide_id"`
	ImageURL        string    `json:"image_url"`
	ImageStorageKey *string   `json:"image_storage_key,omitempty"`
}

// ImageFailed reports a failed image task for a slide.
type ImageFailed struct {
	Header
	SlideID uuid.UUID `json:"slide_id"`
	Error   string    `json:"error"`
}

// DecodeImageEvent parses an image pipeline event and stamps it with a fresh header.
// Only image:* types are accepted.
func DecodeImageEvent(data []byte) (Message, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %v", ErrInvalidMessage, err)}
	}

	if !h.Type.IsImageEvent() {
		return nil, &DecodeError{Header: h, Err: fmt.Errorf("%w: %s", ErrUnknownMessageType, h.Type)}
	}

	var (
		msg     Message
		slideID uuid.UUID
		err     error
	)
	switch h.Type {
	case TypeImageGenerating:
		m := &ImageGenerating{}
		err = unmarshal(data, m)
		m.Header, slideID, msg = newHeader(h.Type), m.SlideID, m
	case TypeImageCompleted:
		m := &ImageCompleted{}
		err = unmarshal(data, m)
		if err == nil && m.ImageURL == "" {
			err = missing("image_url")
		}
		m.Header, slideID, msg = newHeader(h.Type), m.SlideID, m
	case TypeImageFailed:
		m := &ImageFailed{}
		err = unmarshal(data, m)
		m.Header, slideID, msg = newHeader(h.Type), m.SlideID, m
	}
	if err == nil && slideID == uuid.Nil {
		err = missing("slide_id")
	}
	if err != nil {
		return nil, &DecodeError{Header: h, Err: err}
	}
	return msg, nil
}
