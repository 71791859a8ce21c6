package supervisor

import (
	"errors"

	"github.com/binacloud/relay/internal/actor"
)

// ErrClosed is returned by commands issued after Close.
var ErrClosed = errors.New("supervisor closed")

// Reduce is the supervisor state machine.
//
//	Disconnected --Connect--> Connecting --dial ok--> Connected
//	Connecting --dial fail--> Disconnected (+retry)
//	Connected --close/error--> Disconnected (+retry)
//	retry fires --> Connecting, unless Disconnect was requested
func Reduce(state State, input actor.Input) (State, []actor.Effect) {
	switch in := input.(type) {
	case cmdConnect:
		return reduceConnect(state, in)
	case cmdDisconnect:
		return reduceDisconnect(state, in)
	case cmdShutdown:
		return reduceShutdown(state, in)
	case evDialed:
		return reduceDialed(state, in)
	case evDialFailed:
		return reduceDialFailed(state, in)
	case evSubscriptionEnded:
		return reduceSubscriptionEnded(state, in)
	case evRetryDue:
		return reduceRetryDue(state, in)
	default:
		return state, nil
	}
}

func reduceConnect(state State, cmd cmdConnect) (State, []actor.Effect) {
	if state.Closed {
		reply(cmd.Reply, ErrClosed)
		return state, nil
	}

	var effects []actor.Effect
	if state.RetryPending {
		effects = append(effects, effCancelRetry{})
		state.RetryPending = false
	}
	// Teardown runs before the new dial so at most one subscription is live.
	effects = append(effects, effTeardown{})

	state.Manual = false
	state.Endpoint = cmd.Endpoint
	state.Gen++
	effects = append(effects, effDial{Gen: state.Gen, Endpoint: state.Endpoint})

	state, notify := transition(state, Connecting)
	effects = append(effects, notify...)

	reply(cmd.Reply, nil)
	return state, effects
}

func reduceDisconnect(state State, cmd cmdDisconnect) (State, []actor.Effect) {
	if state.Closed {
		reply(cmd.Reply, ErrClosed)
		return state, nil
	}
	state, effects := stop(state)
	reply(cmd.Reply, nil)
	return state, effects
}

func reduceShutdown(state State, cmd cmdShutdown) (State, []actor.Effect) {
	if state.Closed {
		reply(cmd.Reply, nil)
		return state, nil
	}
	state, effects := stop(state)
	state.Closed = true
	reply(cmd.Reply, nil)
	return state, effects
}

// stop cancels any pending retry, tears down and invalidates everything in
// flight.
func stop(state State) (State, []actor.Effect) {
	var effects []actor.Effect
	if state.RetryPending {
		effects = append(effects, effCancelRetry{})
		state.RetryPending = false
	}
	effects = append(effects, effTeardown{})
	state.Manual = true
	state.Gen++

	state, notify := transition(state, Disconnected)
	return state, append(effects, notify...)
}

func reduceDialed(state State, ev evDialed) (State, []actor.Effect) {
	if ev.Gen != state.Gen || state.Closed || state.Conn != Connecting {
		return state, []actor.Effect{effCloseStale{Sub: ev.Sub}}
	}
	state, notify := transition(state, Connected)
	effects := []actor.Effect{effActivate{Gen: ev.Gen, Sub: ev.Sub}}
	return state, append(effects, notify...)
}

func reduceDialFailed(state State, ev evDialFailed) (State, []actor.Effect) {
	if ev.Gen != state.Gen || state.Conn != Connecting {
		return state, nil
	}
	return fail(state)
}

func reduceSubscriptionEnded(state State, ev evSubscriptionEnded) (State, []actor.Effect) {
	if ev.Gen != state.Gen || state.Conn != Connected {
		return state, nil
	}
	state, effects := fail(state)
	return state, append([]actor.Effect{effTeardown{}}, effects...)
}

// fail moves to Disconnected and arms one reconnect unless the operator
// asked to stay offline.
func fail(state State) (State, []actor.Effect) {
	state, effects := transition(state, Disconnected)
	if state.Manual || state.Closed {
		return state, effects
	}
	state.RetryPending = true
	return state, append(effects, effScheduleRetry{Gen: state.Gen, Delay: state.RetryDelay})
}

func reduceRetryDue(state State, ev evRetryDue) (State, []actor.Effect) {
	if ev.Gen != state.Gen || !state.RetryPending || state.Manual || state.Closed {
		return state, nil
	}
	state.RetryPending = false
	state.Gen++
	effects := []actor.Effect{effDial{Gen: state.Gen, Endpoint: state.Endpoint}}
	state, notify := transition(state, Connecting)
	return state, append(effects, notify...)
}

// transition sets the connection state and emits a notification only when it
// actually changes.
func transition(state State, next ConnectionState) (State, []actor.Effect) {
	if state.Conn == next {
		return state, nil
	}
	state.Conn = next
	return state, []actor.Effect{effNotify{State: next}}
}

func reply(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}
