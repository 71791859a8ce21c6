package dashboard

import (
	"context"
	"sync"

	"github.com/binacloud/relay/internal/router"
	"github.com/binacloud/relay/pkg/logger"
	"github.com/binacloud/relay/pkg/types"
)

// streamMessage is one server-sent event.
type streamMessage struct {
	Name string
	Data any
}

// streamClient is the surface behind one /api/stream connection. A full
// buffer drops the message for this client only.
type streamClient struct {
	id string

	mu     sync.Mutex
	ch     chan streamMessage
	closed bool
}

var _ router.Surface = (*streamClient)(nil)

func newStreamClient(id string, buffer int) *streamClient {
	return &streamClient{id: id, ch: make(chan streamMessage, buffer)}
}

func (c *streamClient) OnEvent(_ context.Context, e types.Event) error {
	return c.push(streamMessage{Name: "event", Data: e})
}

func (c *streamClient) OnConnectivityChanged(connected bool) {
	_ = c.push(streamMessage{Name: "connectivity", Data: map[string]bool{"connected": connected}})
}

func (c *streamClient) push(msg streamMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return router.ErrSurfaceClosed
	}
	select {
	case c.ch <- msg:
	default:
		logger.Debugf("dashboard: stream %s is behind, dropping %s", c.id, msg.Name)
	}
	return nil
}

func (c *streamClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}
