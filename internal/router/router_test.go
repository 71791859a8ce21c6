package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/binacloud/relay/internal/eventlog"
	"github.com/binacloud/relay/internal/storage"
	"github.com/binacloud/relay/internal/supervisor"
	"github.com/binacloud/relay/pkg/types"
	"github.com/stretchr/testify/require"
)

type fakeSurface struct {
	name  string
	trail *[]string
	err   error

	mu           sync.Mutex
	events       []types.Event
	connectivity []bool
}

func (f *fakeSurface) OnEvent(_ context.Context, e types.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	if f.trail != nil {
		*f.trail = append(*f.trail, f.name+":"+e.IDString())
	}
	return f.err
}

func (f *fakeSurface) OnConnectivityChanged(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectivity = append(f.connectivity, connected)
}

func ev(id string) types.Event {
	return types.Event{ID: json.RawMessage(`"` + id + `"`), EventType: types.EventCallReceived}
}

func newRouter(t *testing.T) (*Router, *eventlog.Log) {
	t.Helper()
	log := eventlog.New(storage.NewMemoryStore())
	t.Cleanup(log.Close)
	return New(log), log
}

func TestOnDecodedEventWithNoSurfacesStillRecords(t *testing.T) {
	r, log := newRouter(t)
	r.OnDecodedEvent(context.Background(), ev("a"))
	require.Equal(t, 1, log.Len())
	require.Zero(t, r.Surfaces())
}

func TestFanOutPreservesRegistrationOrder(t *testing.T) {
	r, _ := newRouter(t)
	var trail []string
	first := &fakeSurface{name: "first", trail: &trail}
	second := &fakeSurface{name: "second", trail: &trail}
	r.Register(first)
	r.Register(second)

	r.OnDecodedEvent(context.Background(), ev("1"))
	r.OnDecodedEvent(context.Background(), ev("2"))

	require.Equal(t, []string{"first:1", "second:1", "first:2", "second:2"}, trail)
}

func TestFanOutToleratesFailingSurfaces(t *testing.T) {
	r, log := newRouter(t)
	broken := &fakeSurface{err: errors.New("window gone")}
	closed := &fakeSurface{err: ErrSurfaceClosed}
	healthy := &fakeSurface{}
	r.Register(broken)
	r.Register(closed)
	r.Register(healthy)

	r.OnDecodedEvent(context.Background(), ev("x"))

	require.Len(t, healthy.events, 1)
	require.Len(t, broken.events, 1)
	require.Equal(t, 1, log.Len())
}

func TestRegisterAndUnregisterAreIdempotent(t *testing.T) {
	r, _ := newRouter(t)
	s := &fakeSurface{}

	r.Register(s)
	r.Register(s)
	r.Register(nil)
	require.Equal(t, 1, r.Surfaces())

	r.OnDecodedEvent(context.Background(), ev("1"))
	require.Len(t, s.events, 1)

	r.Unregister(s)
	r.Unregister(s)
	r.Unregister(&fakeSurface{})
	require.Zero(t, r.Surfaces())

	r.OnDecodedEvent(context.Background(), ev("2"))
	require.Len(t, s.events, 1)
}

func TestEventIsRecordedBeforeSurfacesSeeIt(t *testing.T) {
	r, log := newRouter(t)
	var seen int
	r.Register(surfaceFunc(func(types.Event) { seen = log.Len() }))

	r.OnDecodedEvent(context.Background(), ev("1"))
	require.Equal(t, 1, seen)
}

func TestConnectivityChanged(t *testing.T) {
	r, _ := newRouter(t)
	s := &fakeSurface{}
	r.Register(s)

	r.ConnectivityChanged(supervisor.Connecting)
	r.ConnectivityChanged(supervisor.Connected)
	r.ConnectivityChanged(supervisor.Disconnected)
	require.Equal(t, []bool{false, true, false}, s.connectivity)
}

type funcSurface struct {
	fn func(types.Event)
}

func surfaceFunc(fn func(types.Event)) *funcSurface { return &funcSurface{fn: fn} }

func (f *funcSurface) OnEvent(_ context.Context, e types.Event) error {
	f.fn(e)
	return nil
}

func (f *funcSurface) OnConnectivityChanged(bool) {}

// sliceSurface is a value surface whose dynamic type cannot be compared.
type sliceSurface struct {
	seen []string
}

func (sliceSurface) OnEvent(context.Context, types.Event) error { return nil }
func (sliceSurface) OnConnectivityChanged(bool)                 {}

func TestRegisterRejectsUncomparableSurfaces(t *testing.T) {
	r, log := newRouter(t)
	good := &fakeSurface{name: "good"}
	r.Register(good)

	require.NotPanics(t, func() {
		r.Register(sliceSurface{})
		r.Register(sliceSurface{seen: []string{"x"}})
		r.Unregister(sliceSurface{})
	})
	require.Equal(t, 1, r.Surfaces())

	r.OnDecodedEvent(context.Background(), ev("a"))
	require.Equal(t, 1, log.Len())
	require.Len(t, good.events, 1)
}
