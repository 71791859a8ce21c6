package supervisor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/binacloud/relay/internal/actor"
	"github.com/binacloud/relay/internal/transport"
	"github.com/binacloud/relay/pkg/logger"
)

// runtime interprets supervisor effects. It never touches State; outcomes go
// back to the actor through emit.
type runtime struct {
	dialer  transport.Dialer
	topic   string
	clock   actor.Clock
	deliver func(gen int64, body []byte)
	notify  func(ConnectionState)

	mu      sync.Mutex
	stopped bool
	// dialCancel and dialDone belong to the single in-flight dial.
	dialCancel context.CancelFunc
	dialDone   chan struct{}
	// pending is a dialed subscription the reducer has not accepted yet.
	pending transport.Subscription
	active  transport.Subscription
	retry   actor.Timer

	// activeGen is read by reader goroutines before every delivery.
	activeGen atomic.Int64
	readers   sync.WaitGroup
}

// HandleEffects implements actor.Runtime.
func (r *runtime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	for _, eff := range effects {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch e := eff.(type) {
		case effTeardown:
			r.teardown()
		case effDial:
			r.dial(ctx, e, emit)
		case effActivate:
			r.activate(e, emit)
		case effCloseStale:
			r.closeStale(e.Sub)
		case effScheduleRetry:
			r.scheduleRetry(e, emit)
		case effCancelRetry:
			r.cancelRetry()
		case effNotify:
			if r.notify != nil {
				r.notify(e.State)
			}
		}
	}
}

// Stop implements actor.Runtime.
func (r *runtime) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.cancelRetry()
	r.teardown()
}

// teardown cancels the in-flight dial, waits for it to return and closes
// every subscription the runtime holds. It returns only once nothing can be
// delivered from an earlier generation.
func (r *runtime) teardown() {
	r.activeGen.Store(0)
	r.cancelDial()

	r.mu.Lock()
	pending, active := r.pending, r.active
	r.pending, r.active = nil, nil
	r.mu.Unlock()

	if pending != nil {
		closeSub(pending)
	}
	if active != nil {
		closeSub(active)
	}
}

// wait blocks until every reader goroutine has returned.
func (r *runtime) wait() {
	r.readers.Wait()
}

func (r *runtime) cancelDial() {
	r.mu.Lock()
	cancel, done := r.dialCancel, r.dialDone
	r.dialCancel, r.dialDone = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *runtime) dial(ctx context.Context, eff effDial, emit func(actor.Input)) {
	r.cancelDial()

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	dctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.dialCancel, r.dialDone = cancel, done
	r.mu.Unlock()

	logger.Infof("supervisor: connecting to %s (gen %d)", eff.Endpoint, eff.Gen)
	go func() {
		defer close(done)
		sub, err := r.dialer.Dial(dctx, eff.Endpoint, r.topic)
		if dctx.Err() != nil {
			// Superseded by a newer command or shutdown.
			if err == nil {
				closeSub(sub)
			}
			logger.Tracef("supervisor: dial gen %d canceled", eff.Gen)
			return
		}
		if err != nil {
			logger.Warnf("supervisor: connect to %s failed: %v", eff.Endpoint, err)
			emit(evDialFailed{Gen: eff.Gen, Err: err})
			return
		}

		r.mu.Lock()
		r.pending = sub
		r.mu.Unlock()
		emit(evDialed{Gen: eff.Gen, Sub: sub})
	}()
}

func (r *runtime) activate(eff effActivate, emit func(actor.Input)) {
	// The dial has returned; release its context.
	r.cancelDial()

	r.mu.Lock()
	if r.pending == eff.Sub {
		r.pending = nil
	}
	if r.stopped {
		r.mu.Unlock()
		closeSub(eff.Sub)
		return
	}
	r.active = eff.Sub
	r.mu.Unlock()

	r.activeGen.Store(eff.Gen)
	logger.Infof("supervisor: connected (gen %d)", eff.Gen)

	r.readers.Add(1)
	go func(gen int64, sub transport.Subscription) {
		defer r.readers.Done()
		for body := range sub.C() {
			if r.activeGen.Load() != gen {
				logger.Tracef("supervisor: dropping frame from stale gen %d", gen)
				continue
			}
			r.deliver(gen, body)
		}
		err := sub.Err()
		if r.activeGen.Load() == gen {
			logger.Warnf("supervisor: subscription lost: %v", err)
		}
		emit(evSubscriptionEnded{Gen: gen, Err: err})
	}(eff.Gen, eff.Sub)
}

func (r *runtime) closeStale(sub transport.Subscription) {
	r.mu.Lock()
	if r.pending == sub {
		r.pending = nil
	}
	r.mu.Unlock()
	logger.Tracef("supervisor: closing superseded subscription")
	closeSub(sub)
}

func (r *runtime) scheduleRetry(eff effScheduleRetry, emit func(actor.Input)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if r.retry != nil {
		r.retry.Stop()
	}
	logger.Infof("supervisor: reconnecting in %s", eff.Delay)
	gen := eff.Gen
	r.retry = r.clock.AfterFunc(eff.Delay, func() {
		emit(evRetryDue{Gen: gen})
	})
}

func (r *runtime) cancelRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retry != nil {
		r.retry.Stop()
		r.retry = nil
	}
}

func closeSub(sub transport.Subscription) {
	if sub == nil {
		return
	}
	if err := sub.Close(); err != nil {
		logger.Debugf("supervisor: close subscription: %v", err)
	}
}
