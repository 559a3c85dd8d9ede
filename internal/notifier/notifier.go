// Package notifier pushes operator alerts over external channels.
package notifier

// TextNotifier is the minimal alert surface. Components depend on it
// instead of a concrete transport so alerting stays optional.
type TextNotifier interface {
	SendText(text string) error
}

// Nop discards every message; used when no channel is configured.
type Nop struct{}

func (Nop) SendText(string) error { return nil }
