// Package router records each decoded event and fans it out to the
// registered presentation surfaces.
package router

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"sync"

	"github.com/binacloud/relay/internal/eventlog"
	"github.com/binacloud/relay/internal/supervisor"
	"github.com/binacloud/relay/pkg/logger"
	"github.com/binacloud/relay/pkg/types"
)

// ErrSurfaceClosed may be returned by a surface that has gone away. The
// router drops it silently.
var ErrSurfaceClosed = errors.New("surface closed")

// Surface presents live events and connectivity. Surfaces are identified by
// ==, so implementations are normally pointers.
type Surface interface {
	OnEvent(ctx context.Context, e types.Event) error
	OnConnectivityChanged(connected bool)
}

// Router is the single path from the supervisor to the event log and the
// surfaces.
type Router struct {
	log *eventlog.Log

	mu       sync.RWMutex
	surfaces []Surface
}

// New returns a router that records into log.
func New(log *eventlog.Log) *Router {
	return &Router{log: log}
}

// OnDecodedEvent records e and then delivers it to every surface in
// registration order. Surface failures are logged and never stop the
// fan-out.
func (r *Router) OnDecodedEvent(ctx context.Context, e types.Event) {
	if r.log != nil {
		r.log.Record(ctx, e)
	}
	for _, s := range r.snapshot() {
		if err := s.OnEvent(ctx, e); err != nil && !errors.Is(err, ErrSurfaceClosed) {
			logger.Debugf("router: surface %T: %v", s, err)
		}
	}
}

// ConnectivityChanged forwards a supervisor state change to every surface.
func (r *Router) ConnectivityChanged(state supervisor.ConnectionState) {
	connected := state == supervisor.Connected
	for _, s := range r.snapshot() {
		s.OnConnectivityChanged(connected)
	}
}

// Register adds s. Registering the same surface twice has no effect. A
// surface that cannot be compared with == is rejected.
func (r *Router) Register(s Surface) {
	if s == nil {
		return
	}
	if !isComparable(s) {
		logger.Warnf("router: surface %T is not comparable, not registered", s)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.surfaces, s) {
		return
	}
	r.surfaces = append(r.surfaces, s)
}

// Unregister removes s. Unknown surfaces are ignored.
func (r *Router) Unregister(s Surface) {
	if s == nil || !isComparable(s) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := slices.Index(r.surfaces, s); i >= 0 {
		r.surfaces = slices.Delete(r.surfaces, i, i+1)
	}
}

// Surfaces returns the number of registered surfaces.
func (r *Router) Surfaces() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.surfaces)
}

func (r *Router) snapshot() []Surface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.surfaces)
}

// isComparable reports whether s can be compared with == without panicking.
func isComparable(s Surface) bool {
	return reflect.ValueOf(s).Comparable()
}
