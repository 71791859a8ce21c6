package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func setupHome(t *testing.T) {
	t.Helper()
	t.Setenv("RELAY_HOME", t.TempDir())
	t.Setenv("RELAY_CONFIG", "")
	t.Setenv("RELAY_STORE", "file")
	t.Setenv("RELAY_SERVER_URL", "https://default.example")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "relay dev"))
}

func TestEndpointSetAndShow(t *testing.T) {
	setupHome(t)

	out, err := execute(t, "endpoint", "show")
	require.NoError(t, err)
	require.Equal(t, "https://default.example (default)\n", out)

	_, err = execute(t, "endpoint", "set", "ftp://nope")
	require.Error(t, err)

	out, err = execute(t, "endpoint", "set", "https://stored.example")
	require.NoError(t, err)
	require.Contains(t, out, "https://stored.example")

	out, err = execute(t, "endpoint", "show")
	require.NoError(t, err)
	require.Equal(t, "https://stored.example\n", out)
}

func TestEventsEmpty(t *testing.T) {
	setupHome(t)

	out, err := execute(t, "events")
	require.NoError(t, err)
	require.Equal(t, "no events\n", out)

	out, err = execute(t, "events", "--json")
	require.NoError(t, err)
	var events []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Empty(t, events)
}
