package supervisor

import (
	"fmt"
	"time"

	"github.com/binacloud/relay/internal/actor"
	"github.com/binacloud/relay/internal/transport"
)

// ConnectionState is the supervisor's view of the server link.
type ConnectionState int

const (
	// Disconnected means no subscription is live or being opened.
	Disconnected ConnectionState = iota
	// Connecting means a dial is in flight.
	Connecting
	// Connected means exactly one subscription is live.
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// MarshalText renders the state as its lower-case name.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is the loop-owned supervisor state.
type State struct {
	Conn     ConnectionState
	Endpoint string

	// Gen increments on every dial, teardown and manual disconnect. Runtime
	// completions carry the generation that produced them so stale dials,
	// closes and timers can be ignored.
	Gen int64

	// Manual is set by Disconnect and cleared by Connect. While set, failures
	// do not schedule a reconnect.
	Manual bool

	// RetryPending is true while a reconnect timer is armed.
	RetryPending bool

	// RetryDelay is the fixed wait between a failure and the next dial.
	RetryDelay time.Duration

	// Closed is terminal; every later command is refused.
	Closed bool
}

// Inputs

type cmdConnect struct {
	actor.InputBase
	Endpoint string
	Reply    chan error
}

type cmdDisconnect struct {
	actor.InputBase
	Reply chan error
}

type cmdShutdown struct {
	actor.InputBase
	Reply chan error
}

type evDialed struct {
	actor.InputBase
	Gen int64
	Sub transport.Subscription
}

type evDialFailed struct {
	actor.InputBase
	Gen int64
	Err error
}

type evSubscriptionEnded struct {
	actor.InputBase
	Gen int64
	Err error
}

type evRetryDue struct {
	actor.InputBase
	Gen int64
}

// Effects

// effTeardown cancels any in-flight dial and closes the live subscription.
type effTeardown struct {
	actor.EffectBase
}

type effDial struct {
	actor.EffectBase
	Gen      int64
	Endpoint string
}

// effActivate starts delivering frames from Sub.
type effActivate struct {
	actor.EffectBase
	Gen int64
	Sub transport.Subscription
}

// effCloseStale closes a subscription whose dial was superseded.
type effCloseStale struct {
	actor.EffectBase
	Sub transport.Subscription
}

type effScheduleRetry struct {
	actor.EffectBase
	Gen   int64
	Delay time.Duration
}

type effCancelRetry struct {
	actor.EffectBase
}

type effNotify struct {
	actor.EffectBase
	State ConnectionState
}
