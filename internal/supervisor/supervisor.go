// Package supervisor owns the relay's single subscription to the event
// server: it dials, keeps at most one subscription live, reconnects after a
// fixed delay and hands decoded events to a callback.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/binacloud/relay/internal/actor"
	"github.com/binacloud/relay/internal/protocol/wire"
	"github.com/binacloud/relay/internal/transport"
	"github.com/binacloud/relay/pkg/logger"
	"github.com/binacloud/relay/pkg/types"
)

const (
	// DefaultReconnectDelay is used when Config.ReconnectDelay is zero.
	DefaultReconnectDelay = 5 * time.Second

	mailboxSize = 1024
)

// ErrNotStarted is returned by commands issued before Start.
var ErrNotStarted = errors.New("supervisor not started")

// Config configures a Supervisor.
type Config struct {
	// Dialer opens subscriptions. Required.
	Dialer transport.Dialer
	// Topic is the destination to subscribe to. Defaults to
	// transport.DefaultTopic.
	Topic string
	// ReconnectDelay is the fixed wait before every reconnect attempt.
	ReconnectDelay time.Duration
	// Clock schedules reconnects. Defaults to actor.RealClock.
	Clock actor.Clock
	// OnEvent receives each decoded event in arrival order.
	OnEvent func(ctx context.Context, e types.Event)
	// Observers are notified of every connection state change.
	Observers []func(ConnectionState)
}

// Supervisor is the connection state machine plus its runtime.
type Supervisor struct {
	actor   *actor.Actor[State]
	runtime *runtime
	onEvent func(ctx context.Context, e types.Event)

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool

	obsMu     sync.RWMutex
	observers []func(ConnectionState)

	closeOnce sync.Once
}

// New returns a stopped supervisor. Call Start before issuing commands.
func New(cfg Config) *Supervisor {
	topic := cfg.Topic
	if topic == "" {
		topic = transport.DefaultTopic
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	clock := cfg.Clock
	if clock == nil {
		clock = actor.RealClock{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		onEvent:   cfg.OnEvent,
		ctx:       ctx,
		cancel:    cancel,
		observers: append([]func(ConnectionState){}, cfg.Observers...),
	}
	s.runtime = &runtime{
		dialer:  cfg.Dialer,
		topic:   topic,
		clock:   clock,
		deliver: s.handleFrame,
		notify:  s.notify,
	}
	s.actor = actor.New(
		State{Conn: Disconnected, RetryDelay: delay},
		Reduce,
		s.runtime,
		actor.WithMailboxSize[State](mailboxSize),
		actor.WithHooks(actor.Hooks[State]{
			OnPanic: func(recovered any) {
				logger.Errorf("supervisor: recovered panic: %v", recovered)
			},
			OnTransition: func(prev, next State, in actor.Input) {
				if logger.Enabled(logger.LevelTrace) {
					logger.Tracef("supervisor: %T %s/%d -> %s/%d", in, prev.Conn, prev.Gen, next.Conn, next.Gen)
				}
			},
		}),
	)
	return s
}

// Start launches the supervisor loop. It is idempotent.
func (s *Supervisor) Start() {
	s.started.Store(true)
	s.actor.Start()
}

// Close disconnects, stops the loop and waits for readers to exit. It is
// idempotent.
func (s *Supervisor) Close() error {
	s.closeOnce.Do(func() {
		if s.started.Load() {
			if err := s.command(func(reply chan error) actor.Input {
				return cmdShutdown{Reply: reply}
			}); err != nil && !errors.Is(err, actor.ErrStopped) {
				logger.Debugf("supervisor: shutdown: %v", err)
			}
		}
		s.cancel()
		s.actor.Stop()
		if s.started.Load() {
			<-s.actor.Done()
		}
		s.runtime.wait()
	})
	return nil
}

// Connect tears down any current subscription and dials endpoint. It returns
// once the command is applied; the dial itself completes asynchronously.
func (s *Supervisor) Connect(endpoint string) error {
	if err := transport.ValidateEndpoint(endpoint); err != nil {
		return err
	}
	return s.command(func(reply chan error) actor.Input {
		return cmdConnect{Endpoint: endpoint, Reply: reply}
	})
}

// Disconnect cancels any pending reconnect and tears down the subscription.
// Automatic reconnection stays off until the next Connect.
func (s *Supervisor) Disconnect() error {
	return s.command(func(reply chan error) actor.Input {
		return cmdDisconnect{Reply: reply}
	})
}

func (s *Supervisor) command(build func(reply chan error) actor.Input) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	reply := make(chan error, 1)
	if err := s.actor.Send(context.Background(), build(reply)); err != nil {
		if errors.Is(err, actor.ErrStopped) {
			return ErrClosed
		}
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.actor.Done():
		return ErrClosed
	}
}

// Status returns the current connection state.
func (s *Supervisor) Status() ConnectionState { return s.actor.State().Conn }

// Endpoint returns the endpoint of the most recent Connect.
func (s *Supervisor) Endpoint() string { return s.actor.State().Endpoint }

// Generation returns the current generation counter.
func (s *Supervisor) Generation() int64 { return s.actor.State().Gen }

// AddObserver registers fn for state change notifications. Observers run on
// the supervisor loop and must not block.
func (s *Supervisor) AddObserver(fn func(ConnectionState)) {
	if fn == nil {
		return
	}
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Supervisor) notify(state ConnectionState) {
	logger.Debugf("supervisor: state %s", state)
	s.obsMu.RLock()
	observers := append([]func(ConnectionState){}, s.observers...)
	s.obsMu.RUnlock()
	for _, fn := range observers {
		fn(state)
	}
}

// handleFrame decodes one message body. Runs on the subscription's reader
// goroutine, so frames of one subscription are handled in order.
func (s *Supervisor) handleFrame(gen int64, body []byte) {
	e, err := wire.DecodeEvent(body)
	switch {
	case errors.Is(err, wire.ErrNoEvent):
		logger.Debugf("supervisor: frame without event (gen %d)", gen)
		return
	case err != nil:
		logger.Warnf("supervisor: dropping malformed frame: %v (raw: %s)", err, truncate(body, 512))
		return
	}
	if s.onEvent == nil {
		return
	}
	s.onEvent(s.ctx, e)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s...(%d bytes)", b[:n], len(b))
}
