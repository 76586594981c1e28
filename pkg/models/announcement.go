package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PayloadElements is the fixed length of the wire tuple.
const PayloadElements = 4

// ErrPayloadShape is returned when the wire tuple is not an array of exactly
// PayloadElements values.
var ErrPayloadShape = errors.New("announcement payload must be an array of exactly 4 elements")

var jsonNull = json.RawMessage("null")

// Payload is the structured form of the wire tuple
// [sequenceHint, reserved, location, personName].
//
// SequenceHint and Reserved are opaque and passed through untouched.
// Location and PersonName are display text; the submitted JSON for those two
// elements is kept as-is and is what MarshalJSON writes back.
type Payload struct {
	SequenceHint json.RawMessage
	Reserved     json.RawMessage
	Location     string
	PersonName   string

	rawLocation json.RawMessage
	rawName     json.RawMessage
}

// Announcement is one "call patient to location" record.
type Announcement struct {
	ID         int64     `json:"id"`
	Payload    Payload   `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
	Processed  bool      `json:"processed"`
}

// NewPayload builds a payload from Go values. seq may be nil.
func NewPayload(seq interface{}, location, personName string) (Payload, error) {
	raw, err := json.Marshal(seq)
	if err != nil {
		return Payload{}, fmt.Errorf("encode sequence hint: %w", err)
	}
	return Payload{
		SequenceHint: raw,
		Reserved:     jsonNull,
		Location:     location,
		PersonName:   personName,
	}, nil
}

// PayloadFromElements converts an already decoded tuple. Only the element
// count is checked. Non-string location and name elements are kept verbatim;
// their display text is the JSON text, or "" for null.
func PayloadFromElements(elements []json.RawMessage) (Payload, error) {
	if len(elements) != PayloadElements {
		return Payload{}, fmt.Errorf("%w: got %d", ErrPayloadShape, len(elements))
	}
	return Payload{
		SequenceHint: opaque(elements[0]),
		Reserved:     opaque(elements[1]),
		Location:     displayString(elements[2]),
		PersonName:   displayString(elements[3]),
		rawLocation:  opaque(elements[2]),
		rawName:      opaque(elements[3]),
	}, nil
}

// MarshalJSON encodes the payload as the 4-element wire tuple. A decoded
// payload is written back exactly as it was received.
func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{
		opaque(p.SequenceHint),
		opaque(p.Reserved),
		wireValue(p.rawLocation, p.Location),
		wireValue(p.rawName, p.PersonName),
	})
}

func wireValue(raw json.RawMessage, display string) interface{} {
	if len(raw) > 0 {
		return raw
	}
	return display
}

// UnmarshalJSON decodes the 4-element wire tuple.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return fmt.Errorf("%w: %v", ErrPayloadShape, err)
	}
	if elements == nil {
		return fmt.Errorf("%w: got null", ErrPayloadShape)
	}
	decoded, err := PayloadFromElements(elements)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

// String renders the payload for logs and terminals.
func (p Payload) String() string {
	return fmt.Sprintf("%s -> %s", p.PersonName, p.Location)
}

func opaque(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return jsonNull
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return append(json.RawMessage(nil), trimmed...)
	}
	return buf.Bytes()
}

func displayString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, jsonNull) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(opaque(trimmed))
}
