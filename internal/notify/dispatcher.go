// Package notify delivers outbox events to configured webhooks. Delivery
// runs beside the core: a failed webhook never affects the mutation that
// wrote the event.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"fieldwork/internal/config"
	"fieldwork/internal/domain"
	"fieldwork/internal/logger"
)

const (
	defaultInterval = 2 * time.Second
	defaultTimeout  = 5 * time.Second
	defaultBackoff  = 500 * time.Millisecond
	defaultBatch    = 100
)

// EventSource reads the event log.
type EventSource interface {
	EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

type Options struct {
	Webhooks      []config.Webhook
	RetryAttempts uint64
	RetryBackoff  time.Duration
	PollInterval  time.Duration
	Client        *http.Client
	Logger        logger.Logger
	// FromStart delivers the whole log instead of only events written after
	// the first poll.
	FromStart bool
}

// OptionsFromConfig maps the notifications section of fieldwork.yml.
func OptionsFromConfig(cfg *config.Config, log logger.Logger) Options {
	n := cfg.Notifications
	return Options{
		Webhooks:      n.Webhooks,
		RetryAttempts: n.RetryAttempts,
		RetryBackoff:  n.RetryBackoff,
		PollInterval:  n.PollInterval,
		Logger:        log,
	}
}

type Dispatcher struct {
	source  EventSource
	opts    Options
	log     logger.Logger
	client  *http.Client
	mu      sync.Mutex
	cursors map[string]int64
}

func NewDispatcher(source EventSource, opts Options) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultInterval
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultBackoff
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{source: source, opts: opts, log: log, client: client, cursors: map[string]int64{}}
}

// Active reports whether any webhook is enabled.
func (d *Dispatcher) Active() bool {
	for _, hook := range d.opts.Webhooks {
		if hook.Enabled && strings.TrimSpace(hook.URL) != "" {
			return true
		}
	}
	return false
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	if !d.Active() {
		return
	}
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()
	for {
		if err := d.DispatchOnce(ctx); err != nil {
			d.log.Warn("webhook dispatch incomplete", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers pending events to every enabled webhook.
func (d *Dispatcher) DispatchOnce(ctx context.Context) error {
	var errs []error
	for _, hook := range d.opts.Webhooks {
		if !hook.Enabled || strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if err := d.dispatchWebhook(ctx, hook); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", hook.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) dispatchWebhook(ctx context.Context, hook config.Webhook) error {
	cursor, err := d.cursorFor(ctx, hook)
	if err != nil {
		return err
	}
	events, err := d.source.EventsAfter(ctx, defaultBatch, cursor)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	for _, evt := range events {
		if hook.Matches(evt.Type) {
			if err := d.deliver(ctx, hook, evt); err != nil {
				// the cursor stays put so the event is retried on the next poll
				return fmt.Errorf("deliver event %d: %w", evt.ID, err)
			}
			d.log.Debug("webhook delivered", "webhook", hook.ID, "event_id", evt.ID, "type", evt.Type)
		}
		d.setCursor(hook.ID, evt.ID)
	}
	return nil
}

func (d *Dispatcher) cursorFor(ctx context.Context, hook config.Webhook) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[hook.ID]; ok {
		return cur, nil
	}
	var cur int64
	if !d.opts.FromStart {
		latest, err := d.source.LatestEventID(ctx)
		if err != nil {
			return 0, fmt.Errorf("init cursor: %w", err)
		}
		cur = latest
	}
	d.cursors[hook.ID] = cur
	return cur, nil
}

func (d *Dispatcher) setCursor(id string, value int64) {
	d.mu.Lock()
	d.cursors[id] = value
	d.mu.Unlock()
}

// Cursor returns the last event id handled for a webhook.
func (d *Dispatcher) Cursor(id string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursors[id]
}

type webhookEvent struct {
	ID            int64           `json:"id"`
	DeliveryID    string          `json:"delivery_id"`
	Type          string          `json:"type"`
	EntityKind    string          `json:"entity_kind"`
	EntityID      int64           `json:"entity_id,omitempty"`
	ActorID       int64           `json:"actor_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	TS            string          `json:"ts"`
	Payload       json.RawMessage `json:"payload"`
}

func (d *Dispatcher) deliver(ctx context.Context, hook config.Webhook, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	deliveryID := uuid.NewString()
	data, err := json.Marshal(webhookEvent{
		ID:            evt.ID,
		DeliveryID:    deliveryID,
		Type:          evt.Type,
		EntityKind:    evt.EntityKind,
		EntityID:      evt.EntityID,
		ActorID:       evt.ActorID,
		CorrelationID: evt.CorrelationID,
		TS:            evt.TS,
		Payload:       payload,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second, Transport: d.client.Transport}
	}
	backoff := retry.WithMaxRetries(d.opts.RetryAttempts, retry.NewExponential(d.opts.RetryBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := post(ctx, client, hook, evt, deliveryID, data)
		var perm *permanentError
		if errors.As(err, &perm) {
			return err
		}
		if err != nil {
			d.log.Debug("webhook attempt failed", "webhook", hook.ID, "event_id", evt.ID, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

// permanentError marks responses that retrying cannot fix.
type permanentError struct {
	status int
	body   string
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

func post(ctx context.Context, client *http.Client, hook config.Webhook, evt domain.Event, deliveryID string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return &permanentError{body: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Fieldwork-Event", evt.Type)
	req.Header.Set("X-Fieldwork-Event-Id", strconv.FormatInt(evt.ID, 10))
	req.Header.Set("X-Fieldwork-Delivery", deliveryID)
	if hook.SecretHeader != "" && hook.Secret != "" {
		req.Header.Set(hook.SecretHeader, hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
		return &permanentError{status: res.StatusCode, body: msg}
	}
	return fmt.Errorf("status %d: %s", res.StatusCode, msg)
}
