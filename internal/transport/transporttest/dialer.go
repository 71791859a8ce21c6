// Package transporttest provides an in-memory Dialer for tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/binacloud/relay/internal/transport"
)

// FakeDialer hands out in-memory subscriptions and records the order of
// dials and closes.
type FakeDialer struct {
	mu      sync.Mutex
	subs    []*FakeSubscription
	fails   []error
	gate    chan struct{}
	log     []string
	live    int
	maxLive int
	dialed  chan struct{}
}

var _ transport.Dialer = (*FakeDialer)(nil)

// NewFakeDialer returns a dialer whose dials succeed until told otherwise.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{dialed: make(chan struct{}, 1024)}
}

// FailNext makes the next len(errs) dials fail with the given errors.
func (d *FakeDialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fails = append(d.fails, errs...)
}

// Hold makes dials block until Release or until their context ends.
func (d *FakeDialer) Hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gate == nil {
		d.gate = make(chan struct{})
	}
}

// Release unblocks held dials.
func (d *FakeDialer) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gate != nil {
		close(d.gate)
		d.gate = nil
	}
}

// Dialed returns a channel that receives once per Dial call, before the
// outcome is decided.
func (d *FakeDialer) Dialed() <-chan struct{} { return d.dialed }

// Dial implements transport.Dialer.
func (d *FakeDialer) Dial(ctx context.Context, endpoint, topic string) (transport.Subscription, error) {
	d.mu.Lock()
	d.log = append(d.log, "dial "+endpoint)
	gate := d.gate
	d.mu.Unlock()

	select {
	case d.dialed <- struct{}{}:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			d.record("canceled " + endpoint)
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.fails) > 0 {
		err := d.fails[0]
		d.fails = d.fails[1:]
		d.log = append(d.log, "failed "+endpoint)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		d.log = append(d.log, "canceled "+endpoint)
		return nil, err
	}

	sub := &FakeSubscription{
		dialer:   d,
		Endpoint: endpoint,
		Topic:    topic,
		Index:    len(d.subs),
		out:      make(chan []byte, 64),
	}
	d.subs = append(d.subs, sub)
	d.live++
	if d.live > d.maxLive {
		d.maxLive = d.live
	}
	d.log = append(d.log, fmt.Sprintf("open %d %s", sub.Index, endpoint))
	return sub, nil
}

func (d *FakeDialer) record(entry string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = append(d.log, entry)
}

// Log returns the recorded dial, open, failure and close entries in order.
func (d *FakeDialer) Log() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.log))
	copy(out, d.log)
	return out
}

// Subscriptions returns every subscription opened so far.
func (d *FakeDialer) Subscriptions() []*FakeSubscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*FakeSubscription, len(d.subs))
	copy(out, d.subs)
	return out
}

// Last returns the most recently opened subscription, or nil.
func (d *FakeDialer) Last() *FakeSubscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.subs) == 0 {
		return nil
	}
	return d.subs[len(d.subs)-1]
}

// Live returns the number of subscriptions not yet ended.
func (d *FakeDialer) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

// MaxLive returns the highest number of simultaneously live subscriptions.
func (d *FakeDialer) MaxLive() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxLive
}

// FakeSubscription is an in-memory transport.Subscription.
type FakeSubscription struct {
	dialer   *FakeDialer
	Endpoint string
	Topic    string
	Index    int

	mu     sync.Mutex
	out    chan []byte
	ended  bool
	closed bool
	err    error
}

var _ transport.Subscription = (*FakeSubscription)(nil)

// C implements transport.Subscription.
func (s *FakeSubscription) C() <-chan []byte { return s.out }

// Err implements transport.Subscription.
func (s *FakeSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Push delivers a message body as if the server had sent it. It reports
// false once the subscription has ended.
func (s *FakeSubscription) Push(body string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.out <- []byte(body)
	return true
}

// Drop ends the subscription as if the server had gone away.
func (s *FakeSubscription) Drop(err error) {
	s.end(err, fmt.Sprintf("dropped %d", s.Index))
}

// Close implements transport.Subscription.
func (s *FakeSubscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.end(transport.ErrClosed, fmt.Sprintf("close %d", s.Index))
	return nil
}

// Closed reports whether Close was called.
func (s *FakeSubscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *FakeSubscription) end(err error, entry string) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.err = err
	close(s.out)
	s.mu.Unlock()

	d := s.dialer
	d.mu.Lock()
	d.live--
	d.log = append(d.log, entry)
	d.mu.Unlock()
}
