package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/decksnap/decksnap-sync/internal/model"
)

// ErrInvalidMessage is wrapped by every DecodeError caused by a malformed frame
var ErrInvalidMessage = errors.New("invalid message")

// ErrUnknownMessageType is wrapped by DecodeError when the type discriminator is not recognized
var ErrUnknownMessageType = errors.New("unknown message type")

// DecodeError describes a frame that could not be decoded. Header holds whatever
// could be recovered so the sender can still be answered.
type DecodeError struct {
	Header Header
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %q frame: %v", e.Header.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Code maps the decode failure to the error code reported to the client
func (e *DecodeError) Code() ErrorCode {
	if errors.Is(e.Err, ErrUnknownMessageType) {
		return ErrorUnknownMessageType
	}
	return ErrorInvalidMessage
}

// SlideUpdate changes allow-listed fields of one slide.
type SlideUpdate struct {
	Header
	SlideID     uuid.UUID                  `json:"slide_id"`
	Changes     map[string]json.RawMessage `json:"changes"`
	BaseVersion int                        `json:"base_version"`
}

// SlideCreate inserts a new slide at Position.
type SlideCreate struct {
	Header
	Position  int                        `json:"position"`
	SlideData map[string]json.RawMessage `json:"slide_data"`
	TempID    string                     `json:"temp_id"`
}

// SlideDelete removes one slide.
type SlideDelete struct {
	Header
	SlideID     uuid.UUID `json:"slide_id"`
	BaseVersion int       `json:"base_version"`
}

// SlideReorder moves slides to new positions.
type SlideReorder struct {
	Header
	SlideOrders []model.SlideOrder `json:"slide_orders"`
}

// PresentationUpdate changes allow-listed presentation fields.
type PresentationUpdate struct {
	Header
	Changes     map[string]json.RawMessage `json:"changes"`
	BaseVersion int                        `json:"base_version"`
}

// CursorMove reports the sender's pointer position.
type CursorMove struct {
	Header
	SlideID *uuid.UUID `json:"slide_id,omitempty"`
	X       float64    `json:"x"`
	Y       float64    `json:"y"`
}

// SelectionChange reports the sender's selected element.
type SelectionChange struct {
	Header
	SlideID   *uuid.UUID `json:"slide_id,omitempty"`
	ElementID *string    `json:"element_id,omitempty"`
}

// wire shapes with pointers so missing required fields can be told apart from zero values
type (
	slideUpdateWire struct {
		SlideID     *uuid.UUID                 `json:"slide_id"`
		Changes     map[string]json.RawMessage `json:"changes"`
		BaseVersion *int                       `json:"base_version"`
	}
	slideCreateWire struct {
		Position  *int                       `json:"position"`
		SlideData map[string]json.RawMessage `json:"slide_data"`
		TempID    string                     `json:"temp_id"`
	}
	slideDeleteWire struct {
		SlideID     *uuid.UUID `json:"slide_id"`
		BaseVersion *int       `json:"base_version"`
	}
	slideReorderWire struct {
		SlideOrders []struct {
			SlideID     *uuid.UUID `json:"slide_id"`
			NewPosition *int       `json:"new_position"`
		} `json:"slide_orders"`
	}
	presentationUpdateWire struct {
		Changes     map[string]json.RawMessage `json:"changes"`
		BaseVersion *int                       `json:"base_version"`
	}
)

// Decode parses one client frame into its typed message. Failures are always a *DecodeError.
func Decode(data []byte) (Message, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %v", ErrInvalidMessage, err)}
	}
	if h.Type == "" {
		return nil, &DecodeError{Header: h, Err: fmt.Errorf("%w: missing type", ErrInvalidMessage)}
	}

	msg, err := decodeBody(h, data)
	if err != nil {
		return nil, &DecodeError{Header: h, Err: err}
	}
	return msg, nil
}

func decodeBody(h Header, data []byte) (Message, error) {
	switch h.Type {
	case TypeSlideUpdate:
		var w slideUpdateWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		if w.SlideID == nil {
			return nil, missing("slide_id")
		}
		if w.BaseVersion == nil {
			return nil, missing("base_version")
		}
		return &SlideUpdate{Header: h, SlideID: *w.SlideID, Changes: w.Changes, BaseVersion: *w.BaseVersion}, nil

	case TypeSlideCreate:
		var w slideCreateWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		if w.Position == nil {
			return nil, missing("position")
		}
		if w.TempID == "" {
			return nil, missing("temp_id")
		}
		return &SlideCreate{Header: h, Position: *w.Position, SlideData: w.SlideData, TempID: w.TempID}, nil

	case TypeSlideDelete:
		var w slideDeleteWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		if w.SlideID == nil {
			return nil, missing("slide_id")
		}
		if w.BaseVersion == nil {
			return nil, missing("base_version")
		}
		return &SlideDelete{Header: h, SlideID: *w.SlideID, BaseVersion: *w.BaseVersion}, nil

	case TypeSlideReorder:
		var w slideReorderWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		orders := make([]model.SlideOrder, 0, len(w.SlideOrders))
		for i, o := range w.SlideOrders {
			if o.SlideID == nil || o.NewPosition == nil {
				return nil, missing(fmt.Sprintf("slide_orders[%d]", i))
			}
			orders = append(orders, model.SlideOrder{SlideID: *o.SlideID, NewPosition: *o.NewPosition})
		}
		return &SlideReorder{Header: h, SlideOrders: orders}, nil

	case TypePresentationUpdate:
		var w presentationUpdateWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		if w.BaseVersion == nil {
			return nil, missing("base_version")
		}
		return &PresentationUpdate{Header: h, Changes: w.Changes, BaseVersion: *w.BaseVersion}, nil

	case TypeCursorMove:
		m := &CursorMove{}
		if err := unmarshal(data, m); err != nil {
			return nil, err
		}
		m.Header = h
		return m, nil

	case TypeSelectionChange:
		m := &SelectionChange{}
		if err := unmarshal(data, m); err != nil {
			return nil, err
		}
		m.Header = h
		return m, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, h.Type)
	}
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", ErrInvalidMessage, field)
}
