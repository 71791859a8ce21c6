package surface

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/binacloud/relay/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestExtractPhoneNumber(t *testing.T) {
	cases := map[string]string{
		"":                              "",
		"N/A":                           "",
		`{"numero":"11987654321"}`:      "11987654321",
		`{"numero": "011987654321"}`:    "11987654321",
		`{"numero":"N/A"}`:              "",
		`{"numero":"55119876543210"}`:   "55119876543",
		"ligação de 0 21 3333-4444":     "2133334444",
		`{"other":"x","numero":"0021"}`: "21",
		"no digits here":                "",
	}
	for in, want := range cases {
		require.Equal(t, want, ExtractPhoneNumber(in), "input %q", in)
	}
}

func TestFormatPhoneNumber(t *testing.T) {
	require.Equal(t, "(11) 98765-4321", FormatPhoneNumber("11987654321"))
	require.Equal(t, "(21) 3333-4444", FormatPhoneNumber("2133334444"))
	require.Equal(t, "(21) 333", FormatPhoneNumber("21-333"))
	require.Equal(t, "21", FormatPhoneNumber("21"))
	require.Equal(t, "", FormatPhoneNumber(""))
}

func TestEventTypeLabel(t *testing.T) {
	require.Equal(t, "Chamada perdida", EventTypeLabel(types.EventCallMissed))
	require.Equal(t, "Chamada finalizada", EventTypeLabel(types.EventCallEnded))
	require.Equal(t, "SMS_RECEIVED", EventTypeLabel("SMS_RECEIVED"))
	require.Equal(t, "Evento", EventTypeLabel(""))
}

func TestFormatLine(t *testing.T) {
	e := types.Event{
		EventType:      types.EventCallReceived,
		DeviceID:       "dev-1",
		Timestamp:      json.RawMessage(`"18/10/2026 10:00:00"`),
		Description:    "Chamada de cliente",
		AdditionalData: `{"numero":"11987654321"}`,
	}

	require.Equal(t, "Chamada recebida (11) 98765-4321", Format{}.Line(e))

	detailed := Format{Detailed: true, PortalBase: "https://portal.example/client/"}.Line(e)
	require.Equal(t,
		`Chamada recebida (11) 98765-4321 device=dev-1 at=18/10/2026 10:00:00 "Chamada de cliente" https://portal.example/client/?primary_phone=11987654321`,
		detailed)

	e.URL = "https://deep.link/1"
	require.True(t, strings.HasSuffix(Format{PortalBase: "https://p"}.Line(e), " https://deep.link/1"))

	require.Equal(t, "Evento N/A", Format{}.Line(types.Event{}))
}

func TestPhoneNumberPrefersExplicitField(t *testing.T) {
	e := types.Event{PhoneNumber: "2133334444", AdditionalData: `{"numero":"11987654321"}`}
	require.Equal(t, "2133334444", PhoneNumber(e))
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, Format{})

	c.OnConnectivityChanged(true)
	c.OnConnectivityChanged(true)
	require.NoError(t, c.OnEvent(context.Background(), types.Event{EventType: types.EventCall}))
	c.OnConnectivityChanged(false)

	require.Equal(t, "-- connected\nChamada N/A\n-- disconnected\n", buf.String())
}

func TestConsoleReplayIsOldestFirst(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, Format{})
	c.Replay([]types.Event{
		{EventType: types.EventCallMissed},
		{EventType: types.EventCallReceived},
	})
	require.Equal(t, "Chamada recebida N/A\nChamada perdida N/A\n", buf.String())
}
