// Package actor provides a small actor-style event loop that owns one piece of
// state, reduces inputs through a pure function, and hands the resulting
// effects to a runtime.
//
// The core idea is:
//   - A single goroutine ("the actor loop") owns all mutable state.
//   - A pure reducer transforms state given an input and returns effects.
//   - A runtime interprets effects asynchronously and emits inputs back.
//
// The connection supervisor is built on this: socket callbacks, timers and
// operator commands all become inputs, so they are applied one at a time in
// arrival order.
package actor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Input is an item delivered to an actor mailbox.
type Input interface {
	isActorInput()
}

// Effect is a declarative side-effect produced by a reducer.
//
// Effects are data, not execution. The Runtime is responsible for interpreting
// effects and emitting resulting inputs back to the actor mailbox.
type Effect interface {
	isActorEffect()
}

// ReducerFunc is a pure state transition function.
//
// Reducers must be side-effect free:
//   - no I/O
//   - no goroutine spawning
//   - no time.Now (inject via inputs instead)
type ReducerFunc[S any] func(state S, input Input) (next S, effects []Effect)

// Runtime interprets effects and emits follow-up inputs back to the actor.
type Runtime interface {
	// HandleEffects executes effects in order. Blocking work must run
	// asynchronously. Implementations must stop emitting once ctx is done.
	HandleEffects(ctx context.Context, effects []Effect, emit func(Input))

	// Stop releases background work. It may be called multiple times.
	Stop()
}

// Hooks provide optional observability into an actor's execution.
type Hooks[S any] struct {
	// OnInput is called after an input is dequeued, before reducing.
	OnInput func(input Input)
	// OnTransition is called after reducing, when state changes are applied.
	OnTransition func(prev S, next S, input Input)
	// OnEffects is called after reducing, before effects are handed to Runtime.
	OnEffects func(effects []Effect)
	// OnPanic is called when the reducer or runtime panics, and the loop
	// moves on to the next input. A panicking reducer leaves state unchanged.
	// If nil, panics propagate.
	OnPanic func(recovered any)
}

// ErrStopped is returned when the actor has been stopped.
var ErrStopped = errors.New("actor stopped")

// Actor runs a single-threaded event loop that owns state of type S.
type Actor[S any] struct {
	reduce  ReducerFunc[S]
	runtime Runtime
	hooks   Hooks[S]

	mu      sync.Mutex
	state   S
	inbox   chan Input
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// Option configures an Actor.
type Option[S any] func(*Actor[S])

// WithHooks attaches hooks for observability.
func WithHooks[S any](hooks Hooks[S]) Option[S] {
	return func(a *Actor[S]) { a.hooks = hooks }
}

// WithMailboxSize sets the actor mailbox buffer size.
func WithMailboxSize[S any](n int) Option[S] {
	return func(a *Actor[S]) {
		if n <= 0 {
			return
		}
		a.inbox = make(chan Input, n)
	}
}

// New creates a new actor with initial state, reducer, and runtime.
func New[S any](initial S, reducer ReducerFunc[S], runtime Runtime, opts ...Option[S]) *Actor[S] {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Actor[S]{
		reduce:  reducer,
		runtime: runtime,
		state:   initial,
		inbox:   make(chan Input, 256),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the actor loop in its own goroutine. It is idempotent.
func (a *Actor[S]) Start() {
	a.once.Do(func() { go a.loop() })
}

// Stop cancels the actor context and stops the runtime. Safe to call
// multiple times.
func (a *Actor[S]) Stop() {
	a.cancel()
	if a.runtime != nil {
		a.runtime.Stop()
	}
}

// Done returns a channel that closes when the actor loop exits.
func (a *Actor[S]) Done() <-chan struct{} { return a.done }

// Enqueue delivers an input without blocking. It returns false when the
// actor is stopped or the mailbox is full; full-mailbox drops are counted.
func (a *Actor[S]) Enqueue(input Input) bool {
	if input == nil {
		return false
	}
	select {
	case <-a.ctx.Done():
		return false
	default:
	}
	select {
	case a.inbox <- input:
		return true
	default:
		a.dropped.Add(1)
		return false
	}
}

// Send delivers an input, blocking until there is room in the mailbox, the
// actor stops, or ctx is done. Operator commands use Send so they are never
// silently dropped.
func (a *Actor[S]) Send(ctx context.Context, input Input) error {
	if input == nil {
		return nil
	}
	select {
	case <-a.ctx.Done():
		return ErrStopped
	default:
	}
	select {
	case a.inbox <- input:
		return nil
	case <-a.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns how many inputs Enqueue discarded because the mailbox was
// full.
func (a *Actor[S]) Dropped() int64 { return a.dropped.Load() }

// State returns a snapshot of the current actor state.
func (a *Actor[S]) State() S {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// loop runs the actor event loop.
func (a *Actor[S]) loop() {
	defer close(a.done)

	emit := func(in Input) {
		_ = a.Enqueue(in)
	}

	for {
		select {
		case <-a.ctx.Done():
			return
		case in := <-a.inbox:
			if in == nil {
				continue
			}
			a.step(in, emit)
		}
	}
}

// step reduces a single input and runs its effects.
func (a *Actor[S]) step(in Input, emit func(Input)) {
	if a.hooks.OnPanic != nil {
		defer func() {
			if r := recover(); r != nil {
				a.hooks.OnPanic(r)
			}
		}()
	}

	if a.hooks.OnInput != nil {
		a.hooks.OnInput(in)
	}

	a.mu.Lock()
	prev := a.state
	a.mu.Unlock()

	next, effects := a.reduce(prev, in)

	a.mu.Lock()
	a.state = next
	a.mu.Unlock()

	if a.hooks.OnTransition != nil {
		a.hooks.OnTransition(prev, next, in)
	}
	if len(effects) > 0 && a.hooks.OnEffects != nil {
		a.hooks.OnEffects(effects)
	}
	if a.runtime != nil && len(effects) > 0 {
		a.runtime.HandleEffects(a.ctx, effects, emit)
	}
}
