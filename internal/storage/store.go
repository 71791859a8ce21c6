// Package storage provides the relay's durable key/value collaborator.
//
// The relay persists exactly two keys: the recent event log and the
// configured server URL. Backends only need byte-level get/set; encoding is
// the caller's concern.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// KeyEvents holds the JSON-encoded recent event log.
	KeyEvents = "events"
	// KeyServerURL holds the user-configured server base URL.
	KeyServerURL = "serverUrl"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Store is a key/value store. A missing key is reported with ok=false and a
// nil error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// LoadServerURL returns the persisted server URL, or "" when none is stored.
func LoadServerURL(ctx context.Context, s Store) (string, error) {
	raw, ok, err := s.Get(ctx, KeyServerURL)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", KeyServerURL, err)
	}
	if !ok {
		return "", nil
	}
	return strings.TrimSpace(string(raw)), nil
}

// SaveServerURL persists the server URL.
func SaveServerURL(ctx context.Context, s Store, serverURL string) error {
	serverURL = strings.TrimSpace(serverURL)
	if serverURL == "" {
		return fmt.Errorf("missing server url")
	}
	if err := s.Set(ctx, KeyServerURL, []byte(serverURL)); err != nil {
		return fmt.Errorf("save %s: %w", KeyServerURL, err)
	}
	return nil
}

func validKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("missing key")
	}
	return nil
}
