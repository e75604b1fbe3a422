package logging

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type recordingSink struct {
	mu     sync.Mutex
	events []LogEvent
}

func (s *recordingSink) Append(evt LogEvent) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

func TestStreamHandlerCarriesWithAttrs(t *testing.T) {
	hub := NewStreamHub(100)
	handler := newStreamHandler(slog.NewTextHandler(discardWriter{}, nil), hub)

	logger := slog.New(handler).
		With(slog.String(FieldComponent, "iteration")).
		With(slog.Int(FieldReference, 99))
	logger.Info("pass complete", slog.String(FieldStage, "measuring"), slog.Int("offset_ms", 40))

	events, _ := hub.Tail(10)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	evt := events[0]
	if evt.Reference != 99 || evt.Component != "iteration" || evt.Stage != "measuring" {
		t.Fatalf("unexpected event %+v", evt)
	}
	if evt.Fields["offset_ms"] != "40" {
		t.Fatalf("expected offset field, got %v", evt.Fields)
	}
}

func TestStreamHandlerCallSiteOverridesWithAttrs(t *testing.T) {
	hub := NewStreamHub(100)
	logger := slog.New(newStreamHandler(slog.NewTextHandler(discardWriter{}, nil), hub)).
		With(slog.String(FieldStage, "original"))
	logger.Info("message", slog.String(FieldStage, "overridden"))

	events, _ := hub.Tail(10)
	if len(events) != 1 || events[0].Stage != "overridden" {
		t.Fatalf("expected call-site stage to win, got %+v", events)
	}
}

func TestStreamHandlerNilHubReturnsBase(t *testing.T) {
	base := slog.NewTextHandler(discardWriter{}, nil)
	if handler := newStreamHandler(base, nil); handler != base {
		t.Fatal("expected base handler when hub is nil")
	}
}

func TestStreamHubEvictsOldestEvents(t *testing.T) {
	hub := NewStreamHub(3)
	for i := 0; i < 5; i++ {
		hub.Publish(LogEvent{Message: "evt"})
	}
	events, next := hub.Tail(0)
	if len(events) != 3 {
		t.Fatalf("expected capacity-bounded buffer, got %d", len(events))
	}
	if events[0].Sequence != 3 || next != 5 {
		t.Fatalf("unexpected sequences: first=%d next=%d", events[0].Sequence, next)
	}
}

func TestStreamHubTailLimitAfterWrap(t *testing.T) {
	hub := NewStreamHub(3)
	for range 5 {
		hub.Publish(LogEvent{Message: "evt"})
	}
	events, _ := hub.Tail(2)
	if len(events) != 2 || events[0].Sequence != 4 || events[1].Sequence != 5 {
		t.Fatalf("unexpected tail %+v", events)
	}
}

func TestStreamHubFetchSinceAndLimit(t *testing.T) {
	hub := NewStreamHub(10)
	for i := 0; i < 5; i++ {
		hub.Publish(LogEvent{Message: "evt"})
	}
	events, next, err := hub.Fetch(context.Background(), 2, 2, false)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(events) != 2 || events[0].Sequence != 3 || events[1].Sequence != 4 {
		t.Fatalf("unexpected events %+v", events)
	}
	if next != 5 {
		t.Fatalf("expected next 5, got %d", next)
	}
}

func TestStreamHubFetchWaitsForPublish(t *testing.T) {
	hub := NewStreamHub(10)
	done := make(chan []LogEvent, 1)
	go func() {
		events, _, _ := hub.Fetch(context.Background(), 0, 10, true)
		done <- events
	}()
	time.Sleep(20 * time.Millisecond)
	hub.Publish(LogEvent{Message: "late"})

	select {
	case events := <-done:
		if len(events) != 1 || events[0].Message != "late" {
			t.Fatalf("unexpected events %+v", events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch did not wake on publish")
	}
}

func TestStreamHubFetchHonoursContext(t *testing.T) {
	hub := NewStreamHub(10)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := hub.Fetch(ctx, 0, 10, true); err == nil {
		t.Fatal("expected context error")
	}
}

func TestStreamHubForwardsToSinks(t *testing.T) {
	hub := NewStreamHub(10)
	sink := &recordingSink{}
	hub.AddSink(sink)
	hub.Publish(LogEvent{Message: "one"})
	hub.Publish(LogEvent{Message: "two"})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 2 || sink.events[1].Sequence != 2 {
		t.Fatalf("unexpected sink events %+v", sink.events)
	}
}
