// Package notifications delivers session progress and outcomes.
//
// Two surfaces live here. Notifier is the fire-and-forget progress sink the
// sync components report into; Hub implements it by fanning each message out
// to registered listeners (websocket connections). Service publishes coarse
// session outcomes to ntfy when a topic is configured and degrades to a no-op
// otherwise. LogForwarder bridges the two by turning selected log stream
// events into hub messages.
package notifications
