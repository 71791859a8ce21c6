package types

import (
	"bytes"
	"encoding/json"
	"strings"
)

// EventType tags what happened on the reporting device. Values the relay does
// not recognize are carried through verbatim.
type EventType string

const (
	EventCallReceived EventType = "CALL_RECEIVED"
	EventCallMissed   EventType = "CALL_MISSED"
	EventCallEnded    EventType = "CALL_ENDED"
	EventCallAnswered EventType = "CALL_ANSWERED"
	EventCall         EventType = "CALL"
)

// Known reports whether t is one of the event types published by the server.
func (t EventType) Known() bool {
	switch t {
	case EventCallReceived, EventCallMissed, EventCallEnded, EventCallAnswered, EventCall:
		return true
	}
	return false
}

// Event is one server-reported occurrence as received on the events topic.
//
// ID and Timestamp are opaque: the server sends them either as strings or as
// numbers and the relay only ever displays them. Fields the relay does not
// model are kept in Extra so a stored event round-trips unchanged.
type Event struct {
	ID             json.RawMessage `json:"id,omitempty"`
	EventType      EventType       `json:"eventType,omitempty"`
	DeviceID       string          `json:"deviceId,omitempty"`
	PhoneNumber    string          `json:"phoneNumber,omitempty"`
	Timestamp      json.RawMessage `json:"timestamp,omitempty"`
	Description    string          `json:"description,omitempty"`
	AdditionalData string          `json:"additionalData,omitempty"`
	URL            string          `json:"url,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// knownEventFields lists the JSON keys decoded into named Event fields.
// "eventId" is the server's notification DTO spelling of "id".
var knownEventFields = map[string]struct{}{
	"id":             {},
	"eventId":        {},
	"eventType":      {},
	"deviceId":       {},
	"phoneNumber":    {},
	"timestamp":      {},
	"description":    {},
	"additionalData": {},
	"url":            {},
}

// eventFields mirrors Event without methods so encoding/json does not recurse.
type eventFields struct {
	ID             json.RawMessage `json:"id,omitempty"`
	EventType      EventType       `json:"eventType,omitempty"`
	DeviceID       string          `json:"deviceId,omitempty"`
	PhoneNumber    string          `json:"phoneNumber,omitempty"`
	Timestamp      json.RawMessage `json:"timestamp,omitempty"`
	Description    string          `json:"description,omitempty"`
	AdditionalData string          `json:"additionalData,omitempty"`
	URL            string          `json:"url,omitempty"`
}

// UnmarshalJSON decodes an event object, keeping unknown keys in Extra.
//
// Named string fields that arrive with a non-string JSON type (for example
// a numeric deviceId) are rendered into their string form rather than
// rejecting the whole event.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Event
	for key, value := range raw {
		switch key {
		case "id":
			out.ID = nonNull(value)
		case "eventId":
			if out.ID == nil {
				out.ID = nonNull(value)
			}
		case "eventType":
			out.EventType = EventType(looseString(value))
		case "deviceId":
			out.DeviceID = looseString(value)
		case "phoneNumber":
			out.PhoneNumber = looseString(value)
		case "timestamp":
			out.Timestamp = nonNull(value)
		case "description":
			out.Description = looseString(value)
		case "additionalData":
			out.AdditionalData = looseString(value)
		case "url":
			out.URL = looseString(value)
		default:
			if out.Extra == nil {
				out.Extra = make(map[string]json.RawMessage)
			}
			out.Extra[key] = append(json.RawMessage(nil), value...)
		}
	}
	// "id" wins over "eventId" regardless of map iteration order.
	if id, ok := raw["id"]; ok && nonNull(id) != nil {
		out.ID = nonNull(id)
	}

	*e = out
	return nil
}

// MarshalJSON encodes the named fields followed by any retained extras.
func (e Event) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(eventFields{
		ID:             e.ID,
		EventType:      e.EventType,
		DeviceID:       e.DeviceID,
		PhoneNumber:    e.PhoneNumber,
		Timestamp:      e.Timestamp,
		Description:    e.Description,
		AdditionalData: e.AdditionalData,
		URL:            e.URL,
	})
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return base, nil
	}

	merged := make(map[string]json.RawMessage, len(e.Extra)+8)
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for key, value := range e.Extra {
		if _, known := knownEventFields[key]; known {
			continue
		}
		merged[key] = value
	}
	return json.Marshal(merged)
}

// IDString renders the opaque id for display. Empty when absent.
func (e Event) IDString() string { return opaqueString(e.ID) }

// TimestampString renders the opaque timestamp for display. Empty when absent.
func (e Event) TimestampString() string { return opaqueString(e.Timestamp) }

// Clone returns a deep copy of e.
func (e Event) Clone() Event {
	out := e
	if e.ID != nil {
		out.ID = append(json.RawMessage(nil), e.ID...)
	}
	if e.Timestamp != nil {
		out.Timestamp = append(json.RawMessage(nil), e.Timestamp...)
	}
	if e.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(e.Extra))
		for k, v := range e.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

func nonNull(value json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return append(json.RawMessage(nil), trimmed...)
}

func looseString(value json.RawMessage) string {
	trimmed := nonNull(value)
	if trimmed == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

func opaqueString(value json.RawMessage) string {
	if value == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(value))
}
