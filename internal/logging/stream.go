package logging

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// LogEvent represents a structured log line published to the streaming hub.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     time.Time         `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	Stage         string            `json:"stage,omitempty"`
	Reference     int               `json:"reference,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	EventType     string            `json:"event_type,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// LogEventSink receives every published event.
type LogEventSink interface {
	Append(LogEvent)
}

// StreamHub keeps the most recent log events in a ring and lets readers
// block until newer ones arrive.
type StreamHub struct {
	mu      sync.Mutex
	ring    []LogEvent
	start   int // index of the oldest event
	size    int
	lastSeq uint64
	sinks   []LogEventSink
	// changed is closed and replaced on every publish.
	changed chan struct{}
}

// NewStreamHub returns a hub retaining up to capacity events (512 if unset).
func NewStreamHub(capacity int) *StreamHub {
	if capacity <= 0 {
		capacity = 512
	}
	return &StreamHub{ring: make([]LogEvent, capacity), changed: make(chan struct{})}
}

// AddSink registers sink to receive every event published afterwards.
func (h *StreamHub) AddSink(sink LogEventSink) {
	if h == nil || sink == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, sink)
}

// Publish assigns the next sequence number to evt, stores it and hands it to
// the sinks outside the lock.
func (h *StreamHub) Publish(evt LogEvent) {
	if h == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	h.mu.Lock()
	h.lastSeq++
	evt.Sequence = h.lastSeq
	if h.size < len(h.ring) {
		h.ring[(h.start+h.size)%len(h.ring)] = evt
		h.size++
	} else {
		h.ring[h.start] = evt
		h.start = (h.start + 1) % len(h.ring)
	}
	sinks := slices.Clone(h.sinks)
	close(h.changed)
	h.changed = make(chan struct{})
	h.mu.Unlock()

	for _, sink := range sinks {
		sink.Append(evt)
	}
}

// Fetch returns up to limit events newer than since together with the latest
// sequence number. With wait set it blocks until something newer exists or
// ctx ends.
func (h *StreamHub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]LogEvent, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	for {
		h.mu.Lock()
		events := h.window(since, h.clampLimit(limit), false)
		last, changed := h.lastSeq, h.changed
		h.mu.Unlock()

		if len(events) > 0 || !wait {
			return events, last, ctx.Err()
		}
		select {
		case <-ctx.Done():
			return nil, last, ctx.Err()
		case <-changed:
		}
	}
}

// Tail returns the newest limit events without blocking.
func (h *StreamHub) Tail(limit int) ([]LogEvent, uint64) {
	if h == nil {
		return nil, 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.window(0, h.clampLimit(limit), true), h.lastSeq
}

func (h *StreamHub) clampLimit(limit int) int {
	if limit <= 0 || limit > len(h.ring) {
		return len(h.ring)
	}
	return limit
}

// window copies at most limit stored events with Sequence > since, taking
// the oldest matches unless newest is set. Callers hold h.mu.
func (h *StreamHub) window(since uint64, limit int, newest bool) []LogEvent {
	var out []LogEvent
	for i := range h.size {
		evt := h.ring[(h.start+i)%len(h.ring)]
		if evt.Sequence > since {
			out = append(out, evt)
		}
	}
	if len(out) <= limit {
		return out
	}
	if newest {
		return out[len(out)-limit:]
	}
	return out[:limit]
}

type streamHandler struct {
	next   slog.Handler
	hub    *StreamHub
	attrs  []slog.Attr
	groups []string
}

func newStreamHandler(next slog.Handler, hub *StreamHub) slog.Handler {
	if hub == nil || next == nil {
		return next
	}
	return &streamHandler{next: next, hub: hub}
}

func (h *streamHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *streamHandler) Handle(ctx context.Context, record slog.Record) error {
	h.hub.Publish(h.event(record))
	return h.next.Handle(ctx, record.Clone())
}

func (h *streamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &streamHandler{
		next:   h.next.WithAttrs(attrs),
		hub:    h.hub,
		attrs:  append(append([]slog.Attr(nil), h.attrs...), attrs...),
		groups: h.groups,
	}
}

func (h *streamHandler) WithGroup(name string) slog.Handler {
	return &streamHandler{
		next:   h.next.WithGroup(name),
		hub:    h.hub,
		attrs:  h.attrs,
		groups: append(append([]string(nil), h.groups...), name),
	}
}

func (h *streamHandler) event(record slog.Record) LogEvent {
	evt := LogEvent{
		Timestamp: record.Time,
		Level:     strings.ToUpper(record.Level.String()),
		Message:   strings.TrimSpace(record.Message),
	}
	var fields []field
	for _, attr := range h.attrs {
		fields = appendField(fields, nil, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		fields = appendField(fields, h.groups, attr)
		return true
	})
	// later fields override earlier ones so call-site attrs win
	for _, f := range fields {
		switch f.key {
		case FieldComponent:
			evt.Component = valueString(f.value)
		case FieldStage:
			evt.Stage = valueString(f.value)
		case FieldReference:
			evt.Reference = int(f.value.Int64())
		case FieldCorrelationID:
			evt.CorrelationID = valueString(f.value)
		case FieldEventType:
			evt.EventType = valueString(f.value)
		default:
			if evt.Fields == nil {
				evt.Fields = make(map[string]string)
			}
			evt.Fields[f.key] = valueString(f.value)
		}
	}
	return evt
}
