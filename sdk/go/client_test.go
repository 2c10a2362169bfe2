package fieldworksdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSetInputValueSendsActorAndVersion(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/v0/tasks/4/inputs/12/value" {
			http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusTeapot)
			return
		}
		if r.Header.Get("X-Actor-Id") != "7" {
			http.Error(w, "missing actor", http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task":{"id":4,"code":"BOILER-0001","version":3},"changed":true,"effects":[{"kind":"NOTIFY_USERS","user_ids":[7,9]}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.ActorID = 7
	res, err := c.SetInputValue(context.Background(), 4, 12, "Rejected", 2)
	if err != nil {
		t.Fatalf("set value: %v", err)
	}
	if got["value"] != "Rejected" || got["expected_version"] != float64(2) {
		t.Fatalf("request body: %v", got)
	}
	if !res.Changed || res.Task.Version != 3 || len(res.Effects) != 1 || len(res.Effects[0].UserIDs) != 2 {
		t.Fatalf("response: %+v", res)
	}
}

func TestAPIErrorCarriesEnvelopeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"stale_update","message":"stale update on input 12"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	_, err := c.ToggleCheckbox(context.Background(), 1, 2, true)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "stale_update" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestEventsPageQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/v0/events" || q.Get("type") != "input.updated" || q.Get("limit") != "5" || q.Get("cursor") != "40" {
			http.Error(w, "bad query "+r.URL.RawQuery, http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"id":39,"type":"input.updated"}],"next_cursor":"39"}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL).EventsPage(context.Background(), "input.updated", 5, "40")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(page.Items) != 1 || page.NextCursor != "39" {
		t.Fatalf("page: %+v", page)
	}
}
