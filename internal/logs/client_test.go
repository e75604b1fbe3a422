package logs_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"avsync/internal/httpapi"
	"avsync/internal/logging"
	"avsync/internal/logs"
)

func TestNewStreamClientEmptyBind(t *testing.T) {
	client, err := logs.NewStreamClient("", "")
	if err != nil {
		t.Fatalf("NewStreamClient error: %v", err)
	}
	if client != nil {
		t.Fatal("expected nil client for empty bind")
	}
	if _, err := client.Fetch(context.Background(), logs.StreamQuery{}); !errors.Is(err, logs.ErrAPIUnavailable) {
		t.Fatalf("expected ErrAPIUnavailable from nil client, got %v", err)
	}
}

func TestStreamClientFetchBuildsQueryAndDecodes(t *testing.T) {
	var gotQuery url.Values
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/logs" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(httpapi.LogStreamResponse{
			Events: []logging.LogEvent{{Sequence: 41, Timestamp: time.Now().UTC(), Level: "info", Message: "hello"}},
			Next:   42,
		})
	}))
	defer srv.Close()

	client, err := logs.NewStreamClient(srv.URL, "secret")
	if err != nil {
		t.Fatalf("NewStreamClient error: %v", err)
	}
	resp, err := client.Fetch(context.Background(), logs.StreamQuery{
		Since:     3,
		Limit:     50,
		Follow:    true,
		Tail:      true,
		Component: "iteration",
		Reference: 7,
	})
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if resp.Next != 42 || len(resp.Events) != 1 || resp.Events[0].Message != "hello" {
		t.Fatalf("unexpected response %+v", resp)
	}
	want := map[string]string{"since": "3", "limit": "50", "follow": "1", "tail": "1", "component": "iteration", "reference": "7"}
	for key, value := range want {
		if gotQuery.Get(key) != value {
			t.Fatalf("query %s = %q, want %q", key, gotQuery.Get(key), value)
		}
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
}

func TestStreamClientReportsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, _ := logs.NewStreamClient(srv.URL, "")
	_, err := client.Fetch(context.Background(), logs.StreamQuery{})
	if err == nil || logs.IsAPIUnavailable(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestIsAPIUnavailableOnRefusedConnection(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	srv.Close()

	client, err := logs.NewStreamClient(addr, "")
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.Fetch(context.Background(), logs.StreamQuery{Limit: 1})
	if !logs.IsAPIUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}
