package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Parse failures split into two kinds so callers can tell an unknown
// type apart from a body that does not decode or validate. Both are
// dead-letter material.
var (
	ErrUnknownType    = errors.New("unknown notification type")
	ErrMalformedEvent = errors.New("malformed notification event")
)

var validate = validator.New()

// Event is the unit of work flowing through the broker. Data holds the
// payload struct selected by Type; for SUMMARY kinds it is the params
// object on the wire and the rendered aggregates only at send time.
type Event struct {
	UserID    string      `json:"user_id"`
	Type      Type        `json:"type"`
	Data      interface{} `json:"data"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewEvent stamps the event with the publish time in UTC.
func NewEvent(userID string, t Type, data interface{}) *Event {
	return &Event{
		UserID:    userID,
		Type:      t,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

// envelope is the first parse phase. Only the type is extracted, so the
// payload schema for the second phase can be selected and every
// malformed body fails through the same path.
type envelope struct {
	Type string `json:"type"`
}

// ParseEvent decodes a broker message body: envelope first to select
// the payload schema, then the full event, then schema validation.
// Errors wrap ErrMalformedEvent or ErrUnknownType.
func ParseEvent(body []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	t, err := ParseType(env.Type)
	if err != nil {
		return nil, err
	}

	var raw struct {
		UserID    string          `json:"user_id"`
		Data      json.RawMessage `json:"data"`
		CreatedAt time.Time       `json:"created_at"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	data, err := DecodePayload(t, raw.Data)
	if err != nil {
		return nil, err
	}

	return &Event{
		UserID:    raw.UserID,
		Type:      t,
		Data:      data,
		CreatedAt: raw.CreatedAt,
	}, nil
}

// DecodePayload decodes and validates a raw data object against the
// schema for t. Batch rows stored as JSON go through the same path as
// wire messages.
func DecodePayload(t Type, raw []byte) (interface{}, error) {
	def, ok := catalog[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, string(t))
	}
	data := def.newPayload()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, data); err != nil {
			return nil, fmt.Errorf("%w: %s data: %v", ErrMalformedEvent, t, err)
		}
	}
	if err := validate.Struct(data); err != nil {
		return nil, fmt.Errorf("%w: %s data: %v", ErrMalformedEvent, t, err)
	}
	return data, nil
}
