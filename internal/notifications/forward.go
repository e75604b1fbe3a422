package notifications

import (
	"fmt"
	"strings"

	"avsync/internal/logging"
)

// LogForwarder relays log stream events to a hub as progress lines. Only
// events at or above info level that carry an event type are forwarded.
type LogForwarder struct {
	hub *Hub
}

// NewLogForwarder returns a forwarder publishing into hub.
func NewLogForwarder(hub *Hub) *LogForwarder {
	return &LogForwarder{hub: hub}
}

// Append implements logging.LogEventSink.
func (f *LogForwarder) Append(evt logging.LogEvent) {
	if f == nil || f.hub == nil || evt.EventType == "" {
		return
	}
	if strings.EqualFold(evt.Level, "debug") || f.hub.Count() == 0 {
		return
	}
	f.hub.Broadcast(FormatLogEvent(evt))
}

// FormatLogEvent renders evt as a single progress line.
func FormatLogEvent(evt logging.LogEvent) string {
	var b strings.Builder
	b.WriteString("[log]")
	if evt.Reference > 0 {
		fmt.Fprintf(&b, " #%d", evt.Reference)
	}
	if evt.Component != "" {
		b.WriteString(" ")
		b.WriteString(evt.Component)
	}
	b.WriteString(": ")
	b.WriteString(evt.Message)
	return b.String()
}
