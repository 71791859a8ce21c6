package supervisor

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/binacloud/relay/internal/actor/actortest"
	"github.com/binacloud/relay/internal/transport/transporttest"
	"github.com/binacloud/relay/pkg/types"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
	delay   = 30 * time.Second
)

type recorder struct {
	mu     sync.Mutex
	states []ConnectionState
	events []types.Event
}

func (r *recorder) observe(s ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) onEvent(_ context.Context, e types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) States() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.states)
}

func (r *recorder) Events() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

type harness struct {
	sup    *Supervisor
	dialer *transporttest.FakeDialer
	clock  *actortest.FakeClock
	rec    *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dialer: transporttest.NewFakeDialer(),
		clock:  actortest.NewFakeClock(time.Unix(0, 0)),
		rec:    &recorder{},
	}
	h.sup = New(Config{
		Dialer:         h.dialer,
		ReconnectDelay: delay,
		Clock:          h.clock,
		OnEvent:        h.rec.onEvent,
		Observers:      []func(ConnectionState){h.rec.observe},
	})
	h.sup.Start()
	t.Cleanup(func() { _ = h.sup.Close() })
	return h
}

func (h *harness) waitState(t *testing.T, want ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.sup.Status() == want }, waitFor, tick,
		"want %s, have %s", want, h.sup.Status())
}

func (h *harness) waitRetryArmed(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return h.clock.Pending() == 1 }, waitFor, tick)
}

func TestConnectDeliversEventsInOrder(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Connect("https://a.example"))
	h.waitState(t, Connected)

	sub := h.dialer.Last()
	require.Equal(t, "https://a.example", sub.Endpoint)
	require.Equal(t, "/topic/events", sub.Topic)
	for _, body := range []string{`{"id":1}`, `{"id":2}`, `{"id":3}`} {
		require.True(t, sub.Push(body))
	}

	require.Eventually(t, func() bool { return len(h.rec.Events()) == 3 }, waitFor, tick)
	var got []string
	for _, e := range h.rec.Events() {
		got = append(got, e.IDString())
	}
	require.Equal(t, []string{"1", "2", "3"}, got)
	require.Equal(t, []ConnectionState{Connecting, Connected}, h.rec.States())
}

func TestAtMostOneLiveSubscription(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Connect("https://a.example"))
	h.waitState(t, Connected)

	require.NoError(t, h.sup.Connect("https://b.example"))
	h.waitState(t, Connected)
	require.Eventually(t, func() bool { return h.dialer.Last().Endpoint == "https://b.example" }, waitFor, tick)

	subs := h.dialer.Subscriptions()
	require.Len(t, subs, 2)
	require.True(t, subs[0].Closed())
	require.False(t, subs[1].Closed())
	require.Equal(t, 1, h.dialer.MaxLive())

	log := h.dialer.Log()
	require.Less(t, slices.Index(log, "close 0"), slices.Index(log, "dial https://b.example"), "log: %v", log)

	// Frames from the superseded subscription are never delivered.
	require.False(t, subs[0].Push(`{"id":"old"}`))
	require.True(t, subs[1].Push(`{"id":"new"}`))
	require.Eventually(t, func() bool { return len(h.rec.Events()) == 1 }, waitFor, tick)
	require.Equal(t, "new", h.rec.Events()[0].IDString())
}

func TestNewerConnectCancelsInFlightDial(t *testing.T) {
	h := newHarness(t)
	h.dialer.Hold()

	require.NoError(t, h.sup.Connect("https://a.example"))
	<-h.dialer.Dialed()
	require.NoError(t, h.sup.Connect("https://b.example"))
	<-h.dialer.Dialed()
	h.dialer.Release()

	h.waitState(t, Connected)
	require.Len(t, h.dialer.Subscriptions(), 1)
	require.Equal(t, "https://b.example", h.dialer.Last().Endpoint)
	require.Contains(t, h.dialer.Log(), "canceled https://a.example")
	require.Equal(t, 1, h.dialer.MaxLive())
}

func TestReconnectAfterDialFailure(t *testing.T) {
	h := newHarness(t)
	h.dialer.FailNext(errors.New("connection refused"))

	require.NoError(t, h.sup.Connect("https://a.example"))
	h.waitRetryArmed(t)
	require.Equal(t, Disconnected, h.sup.Status())
	require.Equal(t, []time.Duration{delay}, h.clock.Scheduled())

	// Nothing happens before the delay elapses.
	h.clock.Advance(delay - time.Second)
	require.Equal(t, Disconnected, h.sup.Status())

	h.clock.Advance(time.Second)
	h.waitState(t, Connected)

	require.Equal(t, []ConnectionState{Connecting, Disconnected, Connecting, Connected}, h.rec.States())
	require.Len(t, h.clock.Scheduled(), 1)
}

func TestReconnectAfterSubscriptionLoss(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Connect("https://a.example"))
	h.waitState(t, Connected)

	h.dialer.Last().Drop(errors.New("broker went away"))
	h.waitRetryArmed(t)
	require.Equal(t, Disconnected, h.sup.Status())

	h.clock.Advance(delay)
	h.waitState(t, Connected)
	require.Len(t, h.dialer.Subscriptions(), 2)
	require.Equal(t, "https://a.example", h.dialer.Last().Endpoint)
	require.Equal(t, 1, h.dialer.MaxLive())
}

func TestRetriesForever(t *testing.T) {
	h := newHarness(t)
	const failures = 5
	errs := make([]error, failures)
	for i := range errs {
		errs[i] = errors.New("down")
	}
	h.dialer.FailNext(errs...)

	require.NoError(t, h.sup.Connect("https://a.example"))
	for i := 0; i < failures; i++ {
		h.waitRetryArmed(t)
		h.clock.Advance(delay)
	}
	h.waitState(t, Connected)
	require.Len(t, h.clock.Scheduled(), failures)
	for _, d := range h.clock.Scheduled() {
		require.Equal(t, delay, d, "delay is fixed")
	}
}

func TestDisconnectCancelsPendingRetry(t *testing.T) {
	h := newHarness(t)
	h.dialer.FailNext(errors.New("connection refused"))

	require.NoError(t, h.sup.Connect("https://a.example"))
	h.waitRetryArmed(t)

	require.NoError(t, h.sup.Disconnect())
	require.Zero(t, h.clock.Pending())

	h.clock.Advance(10 * delay)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, Disconnected, h.sup.Status())
	require.Equal(t, []string{"dial https://a.example", "failed https://a.example"}, h.dialer.Log())
}

func TestDisconnectSuppressesReconnectUntilConnect(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Connect("https://a.example"))
	h.waitState(t, Connected)

	require.NoError(t, h.sup.Disconnect())
	require.Equal(t, Disconnected, h.sup.Status())
	require.True(t, h.dialer.Subscriptions()[0].Closed())
	require.Zero(t, h.clock.Pending())

	require.NoError(t, h.sup.Connect("https://a.example"))
	h.waitState(t, Connected)
	require.Len(t, h.dialer.Subscriptions(), 2)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Connect("https://a.example"))
	h.waitState(t, Connected)

	sub := h.dialer.Last()
	for _, body := range []string{"", "not json", "[1,2,3]", `{"devices":[],"event":null}`, `{"broken":`} {
		require.True(t, sub.Push(body))
	}
	require.True(t, sub.Push(`{"id":"ok","eventType":"CALL_RECEIVED"}`))

	require.Eventually(t, func() bool { return len(h.rec.Events()) == 1 }, waitFor, tick)
	require.Equal(t, "ok", h.rec.Events()[0].IDString())
	require.Equal(t, Connected, h.sup.Status())
	require.Len(t, h.dialer.Subscriptions(), 1)
}

func TestCommandErrors(t *testing.T) {
	sup := New(Config{Dialer: transporttest.NewFakeDialer()})
	require.ErrorIs(t, sup.Connect("https://a.example"), ErrNotStarted)

	sup.Start()
	require.Error(t, sup.Connect("ftp://nope"))
	require.Error(t, sup.Connect(""))

	require.NoError(t, sup.Close())
	require.NoError(t, sup.Close())
	require.ErrorIs(t, sup.Connect("https://a.example"), ErrClosed)
	require.ErrorIs(t, sup.Disconnect(), ErrClosed)
}

func TestCloseTearsDown(t *testing.T) {
	dialer := transporttest.NewFakeDialer()
	sup := New(Config{Dialer: dialer, Clock: actortest.NewFakeClock(time.Unix(0, 0))})
	sup.Start()
	require.NoError(t, sup.Connect("https://a.example"))
	require.Eventually(t, func() bool { return sup.Status() == Connected }, waitFor, tick)

	require.NoError(t, sup.Close())
	require.Zero(t, dialer.Live())
}

func TestAddObserverSeesOnlyRealTransitions(t *testing.T) {
	h := newHarness(t)
	late := &recorder{}
	h.sup.AddObserver(late.observe)
	h.sup.AddObserver(nil)

	require.NoError(t, h.sup.Connect("https://a.example"))
	require.NoError(t, h.sup.Connect("https://a.example"))
	h.waitState(t, Connected)

	states := late.States()
	for i := 1; i < len(states); i++ {
		require.NotEqual(t, states[i-1], states[i], "duplicate notification in %v", states)
	}
	require.Equal(t, Connected, states[len(states)-1])
	require.EqualValues(t, 2, h.sup.Generation())
	require.Equal(t, "https://a.example", h.sup.Endpoint())
}
