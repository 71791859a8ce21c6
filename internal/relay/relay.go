// Package relay wires the event log, router and connection supervisor into
// one owned instance and exposes the operator controls.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/binacloud/relay/internal/actor"
	"github.com/binacloud/relay/internal/eventlog"
	"github.com/binacloud/relay/internal/router"
	"github.com/binacloud/relay/internal/storage"
	"github.com/binacloud/relay/internal/supervisor"
	"github.com/binacloud/relay/internal/transport"
	"github.com/binacloud/relay/pkg/logger"
	"github.com/binacloud/relay/pkg/types"
)

// Options configures a Relay.
type Options struct {
	// Store persists the event log and the server URL. Required. The caller
	// keeps ownership and closes it.
	Store storage.Store
	// Dialer opens subscriptions. Required.
	Dialer transport.Dialer
	// Topic overrides transport.DefaultTopic.
	Topic string
	// DefaultServerURL is used when no endpoint has been stored.
	DefaultServerURL string
	// ReconnectDelay is the fixed wait between reconnect attempts.
	ReconnectDelay time.Duration
	// Capacity overrides eventlog.DefaultCapacity.
	Capacity int
	// Clock overrides the real clock, for tests.
	Clock actor.Clock
	// OnRestore receives the restored snapshot during Start, before the
	// first connection attempt.
	OnRestore func([]types.Event)
}

// Status is a point-in-time view for operators.
type Status struct {
	State      supervisor.ConnectionState `json:"state"`
	Connected  bool                       `json:"connected"`
	Endpoint   string                     `json:"endpoint"`
	Generation int64                      `json:"generation"`
	Events     int                        `json:"events"`
	Surfaces   int                        `json:"surfaces"`
}

// Relay is the long-lived notification relay.
type Relay struct {
	store      storage.Store
	defaultURL string
	onRestore  func([]types.Event)

	log    *eventlog.Log
	router *router.Router
	sup    *supervisor.Supervisor
}

// New assembles a relay. Nothing runs until Start.
func New(opts Options) (*Relay, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("relay: store is required")
	}
	if opts.Dialer == nil {
		return nil, fmt.Errorf("relay: dialer is required")
	}

	var logOpts []eventlog.Option
	if opts.Capacity > 0 {
		logOpts = append(logOpts, eventlog.WithCapacity(opts.Capacity))
	}
	log := eventlog.New(opts.Store, logOpts...)
	rt := router.New(log)

	r := &Relay{
		store:      opts.Store,
		defaultURL: opts.DefaultServerURL,
		onRestore:  opts.OnRestore,
		log:        log,
		router:     rt,
	}
	r.sup = supervisor.New(supervisor.Config{
		Dialer:         opts.Dialer,
		Topic:          opts.Topic,
		ReconnectDelay: opts.ReconnectDelay,
		Clock:          opts.Clock,
		OnEvent:        rt.OnDecodedEvent,
		Observers:      []func(supervisor.ConnectionState){rt.ConnectivityChanged},
	})
	return r, nil
}

// Start restores the event log, starts the supervisor and connects to the
// stored endpoint (or the default one). It returns the restored snapshot.
// Views that must render history before live deltas use Options.OnRestore,
// which runs before any connection is attempted.
func (r *Relay) Start(ctx context.Context) ([]types.Event, error) {
	events := r.log.Load(ctx)
	logger.Infof("relay: restored %d events", len(events))
	if r.onRestore != nil {
		r.onRestore(events)
	}

	r.sup.Start()
	if err := r.Reconnect(ctx); err != nil {
		return events, err
	}
	return events, nil
}

// Close stops the supervisor and drains the event log writer.
func (r *Relay) Close() error {
	err := r.sup.Close()
	r.log.Close()
	return err
}

// Router exposes surface registration.
func (r *Relay) Router() *router.Router { return r.router }

// Supervisor exposes the connection supervisor.
func (r *Relay) Supervisor() *supervisor.Supervisor { return r.sup }

// Events returns the current event log snapshot, newest first.
func (r *Relay) Events() []types.Event { return r.log.Snapshot() }

// SetEndpoint validates url, persists it and reconnects to it. A failed
// write is logged; the connection still moves to the new endpoint.
func (r *Relay) SetEndpoint(ctx context.Context, url string) error {
	if err := transport.ValidateEndpoint(url); err != nil {
		return err
	}
	if err := storage.SaveServerURL(ctx, r.store, url); err != nil {
		logger.Warnf("relay: %v", err)
	}
	return r.sup.Connect(url)
}

// StoredEndpoint returns the persisted endpoint, falling back to the
// default. Storage errors fall back too.
func (r *Relay) StoredEndpoint(ctx context.Context) string {
	url, err := storage.LoadServerURL(ctx, r.store)
	if err != nil {
		logger.Warnf("relay: %v", err)
	}
	if url == "" {
		url = r.defaultURL
	}
	return url
}

// Reconnect connects to the stored endpoint, replacing any current
// subscription.
func (r *Relay) Reconnect(ctx context.Context) error {
	url := r.StoredEndpoint(ctx)
	if url == "" {
		return fmt.Errorf("relay: no endpoint configured")
	}
	return r.sup.Connect(url)
}

// RequestDisconnect drops the connection and keeps it down until the next
// SetEndpoint or Reconnect.
func (r *Relay) RequestDisconnect() error {
	return r.sup.Disconnect()
}

// RequestStatus reports the connection state.
func (r *Relay) RequestStatus() Status {
	state := r.sup.Status()
	return Status{
		State:      state,
		Connected:  state == supervisor.Connected,
		Endpoint:   r.sup.Endpoint(),
		Generation: r.sup.Generation(),
		Events:     r.log.Len(),
		Surfaces:   r.router.Surfaces(),
	}
}
