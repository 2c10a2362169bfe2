package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldwork/internal/config"
	"fieldwork/internal/domain"
	"fieldwork/internal/events"
)

type memSource struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *memSource) add(evtType, payload string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, domain.Event{ID: int64(len(m.events) + 1), Type: evtType, EntityKind: "task", EntityID: 10, Payload: payload, TS: "2024-01-01T00:00:00.000000Z"})
}

func (m *memSource) EventsAfter(_ context.Context, limit int, cursor int64) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, e := range m.events {
		if e.ID > cursor && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memSource) LatestEventID(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.events)), nil
}

func TestDispatchDeliversMatchingEvents(t *testing.T) {
	var (
		mu       sync.Mutex
		received []webhookEvent
		secrets  []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body webhookEvent
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		received = append(received, body)
		secrets = append(secrets, r.Header.Get("X-Hook-Secret"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	src := &memSource{}
	src.add(events.TaskInstantiated, `{}`)
	d := NewDispatcher(src, Options{
		Webhooks: []config.Webhook{{ID: "ops", URL: srv.URL, Enabled: true, Events: []string{events.NotificationRequested}, SecretHeader: "X-Hook-Secret", Secret: "s3cret"}},
	})
	require.True(t, d.Active())

	// the first poll starts after the existing log
	require.NoError(t, d.DispatchOnce(context.Background()))
	assert.Empty(t, received)

	src.add(events.InputUpdated, `{}`)
	src.add(events.NotificationRequested, `{"user_ids":[7,9],"message":"A-1: Rejected"}`)
	require.NoError(t, d.DispatchOnce(context.Background()))

	require.Len(t, received, 1)
	assert.Equal(t, events.NotificationRequested, received[0].Type)
	assert.JSONEq(t, `{"user_ids":[7,9],"message":"A-1: Rejected"}`, string(received[0].Payload))
	assert.NotEmpty(t, received[0].DeliveryID)
	assert.Equal(t, "s3cret", secrets[0])
	assert.EqualValues(t, 3, d.Cursor("ops"))
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	src := &memSource{}
	src.add(events.NotificationRequested, `{}`)
	d := NewDispatcher(src, Options{
		Webhooks:      []config.Webhook{{ID: "ops", URL: srv.URL, Enabled: true}},
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
		FromStart:     true,
	})
	require.NoError(t, d.DispatchOnce(context.Background()))
	assert.EqualValues(t, 3, calls.Load())
	assert.EqualValues(t, 1, d.Cursor("ops"))
}

func TestDispatchStopsOnPermanentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	src := &memSource{}
	src.add(events.NotificationRequested, `{}`)
	src.add(events.NotificationRequested, `{}`)
	d := NewDispatcher(src, Options{
		Webhooks:      []config.Webhook{{ID: "ops", URL: srv.URL, Enabled: true}},
		RetryAttempts: 5,
		RetryBackoff:  time.Millisecond,
		FromStart:     true,
	})
	err := d.DispatchOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad payload")
	assert.EqualValues(t, 1, calls.Load(), "4xx responses are not retried")
	assert.EqualValues(t, 0, d.Cursor("ops"), "the failed event is retried on the next poll")
}

func TestDisabledWebhooksAreSkipped(t *testing.T) {
	d := NewDispatcher(&memSource{}, Options{Webhooks: []config.Webhook{{ID: "off", URL: "http://127.0.0.1:1"}}})
	assert.False(t, d.Active())
	assert.NoError(t, d.DispatchOnce(context.Background()))
}

func TestFromEffect(t *testing.T) {
	task := &domain.TaskInstance{ID: 10, Code: "A-1"}
	n, ok := FromEffect(task, domain.ActionNotifyUsers, 51, []int64{7, 9}, "A-1: Rejected")
	require.True(t, ok)
	assert.Equal(t, []int64{7, 9}, n.Payload()["user_ids"])
	_, ok = FromEffect(task, domain.ActionMarkFnDone, 51, nil, "")
	assert.False(t, ok)
}
