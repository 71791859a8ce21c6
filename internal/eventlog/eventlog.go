// Package eventlog keeps the bounded, newest-first history of recent events
// and mirrors it to durable storage.
//
// The log is the only writer of the persisted events key. Views read a
// snapshot once at startup and receive live deltas from the router after
// that.
package eventlog

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/binacloud/relay/internal/storage"
	"github.com/binacloud/relay/pkg/logger"
	"github.com/binacloud/relay/pkg/types"
)

// DefaultCapacity is the number of events retained.
const DefaultCapacity = 10

// Log is a fixed-capacity, insertion-ordered event history. Index 0 is the
// most recently recorded event.
type Log struct {
	store    storage.Store
	capacity int
	writer   *writerQueue

	mu          sync.RWMutex
	events      []types.Event
	lastPersist error
}

// Option configures a Log.
type Option func(*Log)

// WithCapacity overrides DefaultCapacity. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// New returns an empty log backed by store. Call Load to restore the
// persisted snapshot.
func New(store storage.Store, opts ...Option) *Log {
	l := &Log{
		store:    store,
		capacity: DefaultCapacity,
		writer:   newWriterQueue(0),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Capacity returns the maximum number of retained events.
func (l *Log) Capacity() int { return l.capacity }

// Load reads the persisted snapshot and makes it the in-memory sequence.
//
// Load fails soft: a missing key, an unreadable store or a corrupt value all
// yield an empty log. Snapshots longer than the capacity are truncated.
func (l *Log) Load(ctx context.Context) []types.Event {
	var loaded []types.Event
	err := l.writer.call(func() {
		loaded = l.readSnapshot(ctx)
		l.mu.Lock()
		l.events = loaded
		l.mu.Unlock()
	})
	if err != nil {
		return l.Snapshot()
	}
	return cloneEvents(loaded)
}

// readSnapshot fetches and decodes the persisted events. Runs on the writer.
func (l *Log) readSnapshot(ctx context.Context) []types.Event {
	if l.store == nil {
		return nil
	}
	raw, ok, err := l.store.Get(ctx, storage.KeyEvents)
	if err != nil {
		logger.Warnf("eventlog: load failed, starting empty: %v", err)
		return nil
	}
	if !ok || len(raw) == 0 {
		return nil
	}

	var events []types.Event
	if err := json.Unmarshal(raw, &events); err != nil {
		logger.Warnf("eventlog: stored snapshot is corrupt, starting empty: %v", err)
		return nil
	}
	if len(events) > l.capacity {
		events = events[:l.capacity]
	}
	return events
}

// Record inserts e at the head, evicts from the tail while the log exceeds
// its capacity, persists the result and returns it.
//
// Persistence failures are soft: the in-memory log stays authoritative and
// the next Record writes the whole sequence again. After Close, Record
// leaves the log unchanged and returns the current snapshot.
func (l *Log) Record(ctx context.Context, e types.Event) []types.Event {
	var next []types.Event
	err := l.writer.call(func() {
		l.mu.Lock()
		events := make([]types.Event, 0, len(l.events)+1)
		events = append(events, e.Clone())
		events = append(events, l.events...)
		for len(events) > l.capacity {
			events = events[:len(events)-1]
		}
		l.events = events
		next = cloneEvents(events)
		l.mu.Unlock()

		l.persist(ctx, next)
	})
	if err != nil {
		logger.Debugf("eventlog: record after close ignored")
		return l.Snapshot()
	}
	return next
}

// persist writes the sequence to storage. Runs on the writer.
func (l *Log) persist(ctx context.Context, events []types.Event) {
	if l.store == nil {
		return
	}
	raw, err := json.Marshal(events)
	if err == nil {
		err = l.store.Set(ctx, storage.KeyEvents, raw)
	}

	l.mu.Lock()
	l.lastPersist = err
	l.mu.Unlock()

	if err != nil {
		logger.Warnf("eventlog: persist failed, keeping %d events in memory: %v", len(events), err)
	}
}

// Snapshot returns a copy of the current in-memory sequence.
func (l *Log) Snapshot() []types.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneEvents(l.events)
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// LastPersistError returns the error from the most recent write, or nil if
// it succeeded.
func (l *Log) LastPersistError() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastPersist
}

// Close drains pending records and stops the writer goroutine. The store is
// owned by the caller and is not closed.
func (l *Log) Close() {
	l.writer.close()
}

func cloneEvents(in []types.Event) []types.Event {
	out := make([]types.Event, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}
