package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/binacloud/relay/pkg/types"
)

// ErrDecode is wrapped by every payload decoding failure.
var ErrDecode = errors.New("malformed event payload")

// ErrNoEvent is returned for well-formed envelopes that carry no event, such
// as the device snapshot the server pushes right after a connection opens.
var ErrNoEvent = errors.New("envelope carries no event")

// DecodeError describes a payload that could not be turned into an event.
type DecodeError struct {
	Raw    []byte
	Reason error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: %v", ErrDecode, e.Reason)
}

// Unwrap makes errors.Is(err, ErrDecode) hold.
func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Reason}
}

// NotificationEnvelope is the server's broadcast shape on raw WebSocket
// sessions: a device list plus, for new occurrences, the event itself.
type NotificationEnvelope struct {
	Devices json.RawMessage `json:"devices,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

// DecodeEvent decodes one message body from the events topic.
//
// The body is either a bare event object or a NotificationEnvelope. Anything
// that is not a JSON object yields a *DecodeError. No schema validation is
// applied beyond that.
func DecodeEvent(raw []byte) (types.Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return types.Event{}, &DecodeError{Raw: raw, Reason: errors.New("empty body")}
	}
	if trimmed[0] != '{' {
		return types.Event{}, &DecodeError{Raw: raw, Reason: errors.New("body is not a JSON object")}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return types.Event{}, &DecodeError{Raw: raw, Reason: err}
	}

	if isEnvelope(obj) {
		inner := bytes.TrimSpace(obj["event"])
		if len(inner) == 0 || bytes.Equal(inner, []byte("null")) {
			return types.Event{}, ErrNoEvent
		}
		if inner[0] != '{' {
			return types.Event{}, &DecodeError{Raw: raw, Reason: errors.New("envelope event is not an object")}
		}
		trimmed = inner
	}

	var ev types.Event
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return types.Event{}, &DecodeError{Raw: raw, Reason: err}
	}
	return ev, nil
}

// EncodePayload turns an already-unmarshaled frame argument (for example a
// socket.io event argument) back into a body DecodeEvent accepts. Strings and
// byte slices pass through unchanged.
func EncodePayload(v any) ([]byte, error) {
	switch payload := v.(type) {
	case nil:
		return nil, &DecodeError{Reason: errors.New("nil payload")}
	case []byte:
		return payload, nil
	case string:
		return []byte(payload), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &DecodeError{Reason: err}
	}
	return raw, nil
}

// isEnvelope reports whether the object looks like a NotificationEnvelope.
// A bare event never carries a "devices" key.
func isEnvelope(obj map[string]json.RawMessage) bool {
	if _, ok := obj["devices"]; ok {
		return true
	}
	if ev, ok := obj["event"]; ok {
		ev = bytes.TrimSpace(ev)
		return len(ev) > 0 && ev[0] == '{' && len(obj) == 1
	}
	return false
}
