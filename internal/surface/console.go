package surface

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/binacloud/relay/internal/router"
	"github.com/binacloud/relay/pkg/types"
)

// Console writes one line per event and per connectivity change.
type Console struct {
	format Format

	mu        sync.Mutex
	w         io.Writer
	connected *bool
}

var _ router.Surface = (*Console)(nil)

// NewConsole returns a console surface writing to w.
func NewConsole(w io.Writer, format Format) *Console {
	return &Console{w: w, format: format}
}

// Replay writes a stored snapshot, oldest first, so the newest event ends up
// at the bottom like live ones.
func (c *Console) Replay(events []types.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(events) - 1; i >= 0; i-- {
		fmt.Fprintln(c.w, c.format.Line(events[i]))
	}
}

// OnEvent implements router.Surface.
func (c *Console) OnEvent(_ context.Context, e types.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.w, c.format.Line(e))
	return err
}

// OnConnectivityChanged implements router.Surface. Repeats are suppressed.
func (c *Console) OnConnectivityChanged(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected != nil && *c.connected == connected {
		return
	}
	c.connected = &connected
	if connected {
		fmt.Fprintln(c.w, "-- connected")
	} else {
		fmt.Fprintln(c.w, "-- disconnected")
	}
}
