package transport

import (
	"context"
	"fmt"
	"path"
	"sync"

	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/binacloud/relay/internal/protocol/wire"
	"github.com/binacloud/relay/pkg/logger"
)

// DefaultSocketIOPath is the engine.io mount point on the server.
const DefaultSocketIOPath = "/socket.io/"

// SocketIODialer subscribes through a socket.io server. The topic's last path
// segment is the event name, so "/topic/events" listens for "events".
type SocketIODialer struct {
	// Path is the socket.io mount point. Defaults to DefaultSocketIOPath.
	Path string
	// Auth is sent in the handshake when non-empty.
	Auth map[string]any
}

var _ Dialer = (*SocketIODialer)(nil)

// Dial implements Dialer. It returns once the server acknowledges the
// connection, the connection is refused, or ctx ends.
func (d *SocketIODialer) Dial(ctx context.Context, endpoint, topic string) (Subscription, error) {
	u, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if topic == "" {
		topic = DefaultTopic
	}
	eventName := SocketIOEventName(topic)

	opts := socket.DefaultOptions()
	p := d.Path
	if p == "" {
		p = DefaultSocketIOPath
	}
	opts.SetPath(p)
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))
	// The supervisor owns reconnection.
	opts.SetReconnection(false)
	opts.SetForceNew(true)
	// Handlers are registered before the socket opens.
	opts.SetAutoConnect(false)
	if len(d.Auth) > 0 {
		opts.SetAuth(d.Auth)
	}

	base := u.Scheme + "://" + u.Host
	logger.Debugf("socketio: dialing %s (path: %s, event: %s)", base, p, eventName)
	sock, err := socket.Connect(base, opts)
	if err != nil {
		return nil, fmt.Errorf("socketio connect %s: %w", base, err)
	}

	s := newSocketIOSubscription(topic)
	s.sock = sock
	ready := make(chan error, 1)
	signal := func(err error) {
		select {
		case ready <- err:
		default:
		}
	}

	sock.On(types.EventName("connect"), func(args ...any) {
		logger.Debugf("socketio: connected, id %s", sock.Id())
		sock.Emit("subscribe", topic)
		signal(nil)
	})
	sock.On(types.EventName("connect_error"), func(args ...any) {
		var cause any = "unknown"
		if len(args) > 0 {
			cause = args[0]
		}
		err := fmt.Errorf("socketio connect_error: %v", cause)
		signal(err)
		s.finish(err)
	})
	sock.On(types.EventName("disconnect"), func(args ...any) {
		reason := ""
		if len(args) > 0 {
			if r, ok := args[0].(string); ok {
				reason = r
			}
		}
		err := fmt.Errorf("socketio disconnected: %s", reason)
		signal(err)
		s.finish(err)
	})
	sock.On(types.EventName(eventName), func(args ...any) {
		if len(args) == 0 {
			return
		}
		body, err := wire.EncodePayload(args[0])
		if err != nil {
			logger.Warnf("socketio: dropping %s payload: %v", eventName, err)
			return
		}
		s.deliver(body)
	})

	sock.Connect()

	select {
	case err := <-ready:
		if err != nil {
			_ = s.Close()
			return nil, err
		}
	case <-ctx.Done():
		_ = s.Close()
		return nil, ctx.Err()
	}
	logger.Infof("socketio: subscribed to %s on %s", eventName, base)
	return s, nil
}

// SocketIOEventName maps a STOMP-style destination to a socket.io event.
func SocketIOEventName(topic string) string {
	name := path.Base(topic)
	if name == "." || name == "/" || name == "" {
		return "events"
	}
	return name
}

type socketIOSubscription struct {
	sock  *socket.Socket
	topic string

	mu       sync.RWMutex
	out      chan []byte
	stop     chan struct{}
	stopOnce sync.Once
	ended    bool
	err      error
	closed   sync.Once
}

func newSocketIOSubscription(topic string) *socketIOSubscription {
	return &socketIOSubscription{
		topic: topic,
		out:   make(chan []byte, subscriptionBuffer),
		stop:  make(chan struct{}),
	}
}

func (s *socketIOSubscription) C() <-chan []byte { return s.out }

func (s *socketIOSubscription) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// deliver runs on the socket's event goroutine. It blocks while the reader is
// behind and gives up once the subscription ends.
func (s *socketIOSubscription) deliver(body []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ended {
		return false
	}
	select {
	case s.out <- body:
		return true
	case <-s.stop:
		return false
	}
}

// finish records err and closes out. Only the first call has any effect.
func (s *socketIOSubscription) finish(err error) {
	// Release blocked deliver calls before taking the write lock.
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.out)
}

func (s *socketIOSubscription) Close() error {
	s.finish(ErrClosed)
	s.closed.Do(func() {
		if s.sock != nil {
			s.sock.Disconnect()
		}
	})
	return nil
}
