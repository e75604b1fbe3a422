package notifications

import "context"

// Notifier receives human-readable progress messages. Delivery is best
// effort and never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, message string)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, message string) {
	f(ctx, message)
}

// Nop discards every message.
var Nop Notifier = NotifierFunc(func(context.Context, string) {})

// Multi delivers each message to every non-nil notifier in order.
func Multi(notifiers ...Notifier) Notifier {
	filtered := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			filtered = append(filtered, n)
		}
	}
	switch len(filtered) {
	case 0:
		return Nop
	case 1:
		return filtered[0]
	}
	return NotifierFunc(func(ctx context.Context, message string) {
		for _, n := range filtered {
			n.Notify(ctx, message)
		}
	})
}

// OrNop returns n, or Nop when n is nil.
func OrNop(n Notifier) Notifier {
	if n == nil {
		return Nop
	}
	return n
}
