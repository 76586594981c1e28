package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"callboard/pkg/models"
)

// ErrInvalidPayload is matched by every announcement validation failure.
var ErrInvalidPayload = errors.New("invalid announcement payload")

// Envelope keys accepted for a submitted tuple. "aviso" is what the first
// generation of clinic panels send.
const (
	KeyAnnouncement = "announcement"
	KeyLegacy       = "aviso"
)

// Error describes why a submitted announcement was rejected.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *Error) Unwrap() error { return ErrInvalidPayload }

// tuple carries the decoded elements through struct validation.
type tuple struct {
	Elements []json.RawMessage `validate:"required,len=4"`
}

// AnnouncementValidator turns raw submissions into payloads. The only rule is
// the shape rule: present, an array, exactly four elements. Element contents
// are never inspected.
type AnnouncementValidator struct {
	validator *validator.Validate
}

// NewAnnouncementValidator constructs an AnnouncementValidator.
func NewAnnouncementValidator() *AnnouncementValidator {
	return &AnnouncementValidator{
		validator: validator.New(),
	}
}

// DecodeBody accepts {"announcement": [...]}, {"aviso": [...]} or a bare
// array and returns the structured payload.
func (v *AnnouncementValidator) DecodeBody(body []byte) (models.Payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return models.Payload{}, &Error{Field: KeyAnnouncement, Reason: "is required"}
	}

	if trimmed[0] == '[' {
		return v.DecodeTuple(trimmed)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return models.Payload{}, &Error{Field: "body", Reason: "must be a JSON object or array"}
	}

	raw, ok := envelope[KeyAnnouncement]
	if !ok {
		raw = envelope[KeyLegacy]
	}
	return v.DecodeTuple(raw)
}

// DecodeTuple validates a raw JSON tuple.
func (v *AnnouncementValidator) DecodeTuple(raw json.RawMessage) (models.Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return models.Payload{}, &Error{Field: KeyAnnouncement, Reason: "is required"}
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return models.Payload{}, &Error{Field: KeyAnnouncement, Reason: "must be an array"}
	}

	return v.ValidateElements(elements)
}

// ValidateElements applies the shape rule to decoded elements.
func (v *AnnouncementValidator) ValidateElements(elements []json.RawMessage) (models.Payload, error) {
	if err := v.validator.Struct(tuple{Elements: elements}); err != nil {
		return models.Payload{}, translate(err, len(elements))
	}
	return models.PayloadFromElements(elements)
}

func translate(err error, got int) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	switch verrs[0].Tag() {
	case "required":
		return &Error{Field: KeyAnnouncement, Reason: "is required"}
	case "len":
		return &Error{
			Field:  KeyAnnouncement,
			Reason: fmt.Sprintf("must contain exactly %d elements [sequence, reserved, location, name], got %d", models.PayloadElements, got),
		}
	default:
		return &Error{Field: KeyAnnouncement, Reason: verrs[0].Error()}
	}
}
