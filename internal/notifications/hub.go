package notifications

import (
	"context"
	"log/slog"
	"sync"

	"avsync/internal/logging"
)

// DefaultQueueSize bounds the messages buffered for one listener.
const DefaultQueueSize = 64

// Listener is one registered progress receiver, typically a websocket.
type Listener interface {
	Send(message string) error
}

// Hub fans progress messages out to registered listeners. Each listener has
// its own queue and writer goroutine so a slow receiver never stalls the
// broadcaster.
type Hub struct {
	mu        sync.RWMutex
	listeners map[Listener]*queue
	size      int
	writers   sync.WaitGroup
	logger    *slog.Logger
}

type queue struct {
	messages chan string
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithQueueSize sets the per-listener buffer. Values below one are ignored.
func WithQueueSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.size = n
		}
	}
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		listeners: make(map[Listener]*queue),
		size:      DefaultQueueSize,
		logger:    logging.NewComponentLogger(logger, "hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds l to the hub. Registering a listener twice is a no-op.
func (h *Hub) Register(l Listener) {
	if l == nil {
		return
	}
	h.mu.Lock()
	if _, ok := h.listeners[l]; ok {
		h.mu.Unlock()
		return
	}
	q := &queue{messages: make(chan string, h.size)}
	h.listeners[l] = q
	count := len(h.listeners)
	h.writers.Add(1)
	h.mu.Unlock()

	go h.write(l, q)
	h.logger.Debug("listener registered", logging.Int("listeners", count))
}

// write delivers queued messages to l until its queue is closed or a send fails.
func (h *Hub) write(l Listener, q *queue) {
	defer h.writers.Done()
	for message := range q.messages {
		if err := l.Send(message); err != nil {
			h.remove(l, q)
			logging.WarnWithContext(h.logger, "listener dropped after send failure", "listener_dropped",
				logging.Error(err),
				logging.String(logging.FieldImpact, "client stops receiving progress"),
			)
			for range q.messages {
			}
			return
		}
	}
}

// remove deletes l if q is still its queue and closes q. It reports whether
// anything was removed.
func (h *Hub) remove(l Listener, q *queue) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	current, ok := h.listeners[l]
	if !ok || (q != nil && current != q) {
		return false
	}
	delete(h.listeners, l)
	close(current.messages)
	return true
}

// Unregister removes l. Unknown listeners are ignored. Messages already
// queued for l are still delivered by its writer.
func (h *Hub) Unregister(l Listener) {
	if !h.remove(l, nil) {
		return
	}
	h.logger.Debug("listener unregistered", logging.Int("listeners", h.Count()))
}

// Count reports the number of registered listeners.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Broadcast queues message for every listener without waiting on delivery.
// A listener whose queue is full is dropped; the rest still receive the
// message.
func (h *Hub) Broadcast(message string) {
	var stalled []Listener
	h.mu.RLock()
	for l, q := range h.listeners {
		select {
		case q.messages <- message:
		default:
			stalled = append(stalled, l)
		}
	}
	h.mu.RUnlock()

	for _, l := range stalled {
		if h.remove(l, nil) {
			logging.WarnWithContext(h.logger, "listener dropped after queue overflow", "listener_dropped",
				logging.Int("queue_size", h.size),
				logging.String(logging.FieldImpact, "client stops receiving progress"),
			)
		}
	}
}

// Notify implements Notifier.
func (h *Hub) Notify(_ context.Context, message string) {
	h.Broadcast(message)
}

// Close unregisters every listener and waits for their writers to drain.
func (h *Hub) Close() {
	h.mu.Lock()
	for l, q := range h.listeners {
		delete(h.listeners, l)
		close(q.messages)
	}
	h.mu.Unlock()
	h.writers.Wait()
}
