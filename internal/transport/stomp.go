package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"

	"github.com/binacloud/relay/pkg/logger"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultCloseTimeout     = 3 * time.Second
	defaultStompHeartBeat   = 10 * time.Second
	subscriptionBuffer      = 64
)

// StompDialer subscribes to a topic with STOMP 1.2 carried over a
// WebSocket.
type StompDialer struct {
	// UpgradePath is appended to the endpoint. Defaults to DefaultUpgradePath.
	UpgradePath string
	// HeartBeat is offered for both directions. Zero uses 10s; negative
	// disables heart-beating.
	HeartBeat time.Duration
	// Header is sent with the WebSocket upgrade request.
	Header http.Header
	// HandshakeTimeout bounds the WebSocket upgrade. Defaults to 15s.
	HandshakeTimeout time.Duration
	// CloseTimeout bounds the graceful DISCONNECT on Close. Defaults to 3s.
	CloseTimeout time.Duration
}

var _ Dialer = (*StompDialer)(nil)

// Dial implements Dialer.
func (d *StompDialer) Dial(ctx context.Context, endpoint, topic string) (Subscription, error) {
	upgradePath := d.UpgradePath
	if upgradePath == "" {
		upgradePath = DefaultUpgradePath
	}
	if topic == "" {
		topic = DefaultTopic
	}
	wsURL, err := WebSocketURL(endpoint, upgradePath)
	if err != nil {
		return nil, err
	}

	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	wsDialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
		Subprotocols:     []string{"v12.stomp", "v11.stomp", "v10.stomp"},
	}

	logger.Debugf("stomp: dialing %s", wsURL)
	ws, _, err := wsDialer.DialContext(ctx, wsURL, d.Header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", wsURL, err)
	}

	// The STOMP handshake has no context of its own; closing the socket
	// unblocks it when ctx ends first.
	stopWatch := context.AfterFunc(ctx, func() { _ = ws.Close() })

	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.Host(hostOf(wsURL)),
	}
	if hb := d.heartBeat(); hb > 0 {
		opts = append(opts, stomp.ConnOpt.HeartBeat(hb, hb))
	} else {
		opts = append(opts, stomp.ConnOpt.HeartBeat(0, 0))
	}

	conn, err := stomp.Connect(newWSConn(ws), opts...)
	if err != nil {
		stopWatch()
		_ = ws.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("stomp connect: %w", err)
	}

	sub, err := conn.Subscribe(topic, stomp.AckAuto)
	if err != nil {
		stopWatch()
		conn.MustDisconnect()
		_ = ws.Close()
		return nil, fmt.Errorf("stomp subscribe %s: %w", topic, err)
	}

	if !stopWatch() {
		// ctx ended while we were subscribing and the socket is gone.
		conn.MustDisconnect()
		return nil, ctx.Err()
	}

	closeTimeout := d.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = defaultCloseTimeout
	}
	s := &stompSubscription{
		ws:           ws,
		conn:         conn,
		sub:          sub,
		topic:        topic,
		out:          make(chan []byte, subscriptionBuffer),
		stop:         make(chan struct{}),
		closeTimeout: closeTimeout,
	}
	go s.pump()
	logger.Infof("stomp: subscribed to %s on %s", topic, wsURL)
	return s, nil
}

func (d *StompDialer) heartBeat() time.Duration {
	switch {
	case d.HeartBeat < 0:
		return 0
	case d.HeartBeat == 0:
		return defaultStompHeartBeat
	default:
		return d.HeartBeat
	}
}

// stompSubscription adapts a go-stomp subscription to Subscription.
type stompSubscription struct {
	ws           *websocket.Conn
	conn         *stomp.Conn
	sub          *stomp.Subscription
	topic        string
	closeTimeout time.Duration

	out  chan []byte
	stop chan struct{}

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

func (s *stompSubscription) C() <-chan []byte { return s.out }

func (s *stompSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stompSubscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// pump copies message bodies to out until the subscription ends.
func (s *stompSubscription) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.stop:
			return
		case msg, ok := <-s.sub.C:
			if !ok {
				s.setErr(fmt.Errorf("stomp subscription %s ended", s.topic))
				return
			}
			if msg.Err != nil {
				s.setErr(fmt.Errorf("stomp: %w", msg.Err))
				return
			}
			select {
			case s.out <- msg.Body:
			case <-s.stop:
				return
			}
		}
	}
}

// Close unsubscribes and disconnects, falling back to an immediate socket
// close if the server does not answer within closeTimeout.
func (s *stompSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.setErr(ErrClosed)
		close(s.stop)

		done := make(chan error, 1)
		go func() {
			if err := s.sub.Unsubscribe(); err != nil {
				logger.Debugf("stomp: unsubscribe %s: %v", s.topic, err)
			}
			done <- s.conn.Disconnect()
		}()

		select {
		case err := <-done:
			if err != nil {
				logger.Debugf("stomp: disconnect: %v", err)
			}
		case <-time.After(s.closeTimeout):
			logger.Debugf("stomp: disconnect timed out, dropping socket")
			s.conn.MustDisconnect()
		}
		// Disconnect normally closes the socket already.
		_ = s.ws.Close()
	})
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "/"
	}
	return u.Hostname()
}
