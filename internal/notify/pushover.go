// Package notify pushes events to a phone through Pushover.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/binacloud/relay/internal/router"
	"github.com/binacloud/relay/internal/surface"
	"github.com/binacloud/relay/pkg/logger"
	"github.com/binacloud/relay/pkg/types"
)

const (
	// DefaultPushoverEndpoint is the Pushover API endpoint used for message
	// delivery.
	DefaultPushoverEndpoint = "https://api.pushover.net/1/messages.json"
	// pushoverContentType is the HTTP form content type required by Pushover.
	pushoverContentType = "application/x-www-form-urlencoded"
	// defaultPushoverTimeout is the HTTP timeout used for Pushover requests.
	defaultPushoverTimeout = 10 * time.Second

	eventTitle          = "Novo Evento Bina Cloud"
	eventFallbackDetail = "Novo evento recebido"
)

// PushoverConfig describes the credentials and defaults for Pushover delivery.
type PushoverConfig struct {
	// Token is the application API token.
	Token string
	// UserKey is the destination user key.
	UserKey string
	// Priority is the Pushover priority value for messages.
	Priority int
	// Cooldown is the minimum interval between notifications per alert key.
	Cooldown time.Duration
	// Endpoint overrides DefaultPushoverEndpoint.
	Endpoint string
	// Client overrides the default HTTP client.
	Client *http.Client
	// Format renders deep links for events without a URL.
	Format surface.Format
}

// PushoverMessage describes a message to send to Pushover.
type PushoverMessage struct {
	// Title is the Pushover notification title.
	Title string
	// Message is the notification body.
	Message string
	// URL is an optional supplementary link.
	URL string
	// AlertKey is used to de-duplicate notifications within the cooldown window.
	AlertKey string
}

// PushoverNotifier sends notifications to the Pushover service. It is also a
// router.Surface: every event becomes one push, sent in the background.
type PushoverNotifier struct {
	token    string
	userKey  string
	priority int
	cooldown time.Duration
	endpoint string
	format   surface.Format
	now      func() time.Time

	client *http.Client

	mu        sync.Mutex
	lastSent  map[string]time.Time
	lastError error
	closed    bool
	inflight  sync.WaitGroup
}

var _ router.Surface = (*PushoverNotifier)(nil)

// NewPushoverNotifier creates a new notifier using the supplied config.
func NewPushoverNotifier(cfg PushoverConfig) (*PushoverNotifier, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("pushover token is required")
	}
	if strings.TrimSpace(cfg.UserKey) == "" {
		return nil, fmt.Errorf("pushover user key is required")
	}
	if cfg.Cooldown < 0 {
		return nil, fmt.Errorf("pushover cooldown must be non-negative")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultPushoverEndpoint
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultPushoverTimeout}
	}

	return &PushoverNotifier{
		token:    cfg.Token,
		userKey:  cfg.UserKey,
		priority: cfg.Priority,
		cooldown: cfg.Cooldown,
		endpoint: endpoint,
		format:   cfg.Format,
		now:      time.Now,
		client:   client,
		lastSent: make(map[string]time.Time),
	}, nil
}

// OnEvent implements router.Surface. The push is sent asynchronously so a
// slow Pushover API never holds up the other surfaces.
func (n *PushoverNotifier) OnEvent(ctx context.Context, e types.Event) error {
	msg := EventMessage(e, n.format)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return router.ErrSurfaceClosed
	}
	n.inflight.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.inflight.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultPushoverTimeout)
		defer cancel()
		if err := n.Notify(sendCtx, msg); err != nil {
			logger.Warnf("notify: pushover: %v", err)
		}
	}()
	return nil
}

// OnConnectivityChanged implements router.Surface. Pushes are per event only.
func (n *PushoverNotifier) OnConnectivityChanged(bool) {}

// Close waits for in-flight pushes. Later events are refused with
// router.ErrSurfaceClosed.
func (n *PushoverNotifier) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.inflight.Wait()
}

// EventMessage builds the push for e. The alert key combines the event type
// and caller so repeated rings from one number respect the cooldown.
func EventMessage(e types.Event, format surface.Format) PushoverMessage {
	detail := strings.TrimSpace(e.Description)
	if detail == "" {
		detail = eventFallbackDetail
	}
	phone := surface.PhoneNumber(e)
	if phone != "" {
		detail = surface.FormatPhoneNumber(phone) + ": " + detail
	}
	key := string(e.EventType) + "|" + phone
	if phone == "" {
		key += "|" + e.IDString()
	}
	return PushoverMessage{
		Title:    eventTitle,
		Message:  detail,
		URL:      format.Link(e),
		AlertKey: key,
	}
}

// Notify sends a Pushover notification if it passes cooldown checks.
func (n *PushoverNotifier) Notify(ctx context.Context, msg PushoverMessage) error {
	alertKey := strings.TrimSpace(msg.AlertKey)
	if alertKey == "" {
		return fmt.Errorf("pushover alert key is required")
	}
	message := strings.TrimSpace(msg.Message)
	if message == "" {
		return fmt.Errorf("pushover message is required")
	}

	now := n.now()
	if !n.shouldSend(alertKey, now) {
		logger.Debugf("notify: %s suppressed by cooldown", alertKey)
		return nil
	}

	if err := n.send(ctx, msg); err != nil {
		n.setLastError(err)
		return err
	}
	n.markSent(alertKey, now)
	return nil
}

// LastError returns the most recent send error, if any.
func (n *PushoverNotifier) LastError() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastError
}

// shouldSend returns whether a notification is allowed under cooldown rules.
func (n *PushoverNotifier) shouldSend(alertKey string, now time.Time) bool {
	if n.cooldown == 0 {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	last, ok := n.lastSent[alertKey]
	if !ok {
		return true
	}
	return now.Sub(last) >= n.cooldown
}

// markSent records a successful send time for a specific alert key.
func (n *PushoverNotifier) markSent(alertKey string, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastSent[alertKey] = now
	n.lastError = nil
}

// setLastError records the most recent send error.
func (n *PushoverNotifier) setLastError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastError = err
}

// send performs the HTTP request to Pushover.
func (n *PushoverNotifier) send(ctx context.Context, msg PushoverMessage) error {
	form := url.Values{}
	form.Set("token", n.token)
	form.Set("user", n.userKey)
	form.Set("message", msg.Message)
	if title := strings.TrimSpace(msg.Title); title != "" {
		form.Set("title", title)
	}
	if link := strings.TrimSpace(msg.URL); link != "" {
		form.Set("url", link)
	}
	if n.priority != 0 {
		form.Set("priority", fmt.Sprintf("%d", n.priority))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("pushover request build failed: %w", err)
	}
	req.Header.Set("Content-Type", pushoverContentType)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("pushover request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("pushover response read failed: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("pushover response %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
