package wire

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/binacloud/relay/pkg/types"
	"github.com/stretchr/testify/require"
)

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return raw
}

func TestDecodeEvent_BareEvent(t *testing.T) {
	ev, err := DecodeEvent(readTestdata(t, "event_call_received.json"))
	require.NoError(t, err)

	require.Equal(t, "42", ev.IDString())
	require.Equal(t, types.EventCallReceived, ev.EventType)
	require.Equal(t, "bina-01", ev.DeviceID)
	require.Equal(t, "2024-03-18T10:15:30", ev.TimestampString())
	require.Equal(t, `{"numero":"011987654321"}`, ev.AdditionalData)
	require.Contains(t, ev.URL, "primary_phone=11987654321")
	require.Empty(t, ev.Extra)
}

func TestDecodeEvent_Envelope(t *testing.T) {
	ev, err := DecodeEvent(readTestdata(t, "notification_envelope.json"))
	require.NoError(t, err)

	require.Equal(t, "42", ev.IDString())
	require.Equal(t, types.EventCallMissed, ev.EventType)
	require.Equal(t, "18/03/2024 10:15:30", ev.TimestampString())
}

func TestDecodeEvent_DevicesOnlyEnvelope(t *testing.T) {
	_, err := DecodeEvent(readTestdata(t, "devices_only.json"))
	require.ErrorIs(t, err, ErrNoEvent)
	require.NotErrorIs(t, err, ErrDecode)
}

func TestDecodeEvent_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: "   "},
		{name: "not_json", raw: "CONNECTED"},
		{name: "array", raw: `[{"eventType":"CALL"}]`},
		{name: "truncated", raw: `{"eventType":"CALL"`},
		{name: "envelope_event_scalar", raw: `{"devices":[],"event":"nope"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tt.raw))
			require.ErrorIs(t, err, ErrDecode)

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
		})
	}
}

func TestDecodeEvent_PreservesUnknownShape(t *testing.T) {
	raw := `{"eventType":"RING_STORM","deviceId":7,"custom":{"a":[1,2]},"timestamp":1710756930000}`

	ev, err := DecodeEvent([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, types.EventType("RING_STORM"), ev.EventType)
	require.False(t, ev.EventType.Known())
	require.Equal(t, "7", ev.DeviceID)
	require.Equal(t, "1710756930000", ev.TimestampString())
	require.JSONEq(t, `{"a":[1,2]}`, string(ev.Extra["custom"]))

	out, err := json.Marshal(ev)
	require.NoError(t, err)
	require.JSONEq(t, `{"eventType":"RING_STORM","deviceId":"7","custom":{"a":[1,2]},"timestamp":1710756930000}`, string(out))
}

func TestDecodeEvent_EmptyObjectAccepted(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{}`))
	require.NoError(t, err)
	require.Empty(t, ev.IDString())
	require.Empty(t, ev.EventType)
}

func TestEncodePayload_RoundTripsThroughDecode(t *testing.T) {
	raw, err := EncodePayload(map[string]any{
		"eventType":   "CALL_ENDED",
		"description": "done",
	})
	require.NoError(t, err)
	ev, err := DecodeEvent(raw)
	require.NoError(t, err)
	require.Equal(t, types.EventCallEnded, ev.EventType)
	require.Equal(t, "done", ev.Description)

	raw, err = EncodePayload(`{"id":2}`)
	require.NoError(t, err)
	require.Equal(t, `{"id":2}`, string(raw))

	raw, err = EncodePayload([]byte(`{"id":3}`))
	require.NoError(t, err)
	require.Equal(t, `{"id":3}`, string(raw))

	_, err = EncodePayload(nil)
	require.ErrorIs(t, err, ErrDecode)

	_, err = EncodePayload(func() {})
	require.ErrorIs(t, err, ErrDecode)

	raw, err = EncodePayload("not json")
	require.NoError(t, err)
	_, err = DecodeEvent(raw)
	require.ErrorIs(t, err, ErrDecode)
}
