// Package transport opens topic subscriptions on the event server.
//
// A Dialer performs the whole handshake (socket upgrade, protocol connect,
// topic subscribe) and hands back a Subscription delivering raw message
// bodies. Reconnection is not handled here; the supervisor owns that policy.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultTopic is the server's event broadcast destination.
	DefaultTopic = "/topic/events"
	// DefaultUpgradePath is the raw WebSocket leg of the server's SockJS
	// endpoint mounted at /ws.
	DefaultUpgradePath = "/ws/websocket"
)

// ErrClosed is reported by Subscription.Err after a local Close.
var ErrClosed = errors.New("subscription closed")

// Subscription is one live topic subscription.
type Subscription interface {
	// C delivers message bodies in arrival order. It is closed when the
	// subscription ends for any reason.
	C() <-chan []byte
	// Err explains why C was closed: ErrClosed after Close, otherwise the
	// transport failure. Nil while the subscription is live.
	Err() error
	// Close unsubscribes and tears down the connection. Safe to call more
	// than once.
	Close() error
}

// Dialer opens subscriptions.
type Dialer interface {
	Dial(ctx context.Context, endpoint, topic string) (Subscription, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, endpoint, topic string) (Subscription, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, endpoint, topic string) (Subscription, error) {
	return f(ctx, endpoint, topic)
}

// ValidateEndpoint checks that raw is an absolute http(s) or ws(s) URL.
func ValidateEndpoint(raw string) error {
	_, err := parseEndpoint(raw)
	return err
}

// WebSocketURL joins the server base URL and upgrade path, mapping http(s)
// to ws(s).
func WebSocketURL(base, upgradePath string) (string, error) {
	u, err := parseEndpoint(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if upgradePath != "" {
		if !strings.HasPrefix(upgradePath, "/") {
			upgradePath = "/" + upgradePath
		}
		u.Path = strings.TrimRight(u.Path, "/") + upgradePath
	}
	u.RawPath = ""
	return u.String(), nil
}

func parseEndpoint(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("missing endpoint")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return nil, fmt.Errorf("invalid endpoint %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q: missing host", raw)
	}
	return u, nil
}
