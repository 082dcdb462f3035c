// Package broadcast defines the port for publishing session events to observers.
package broadcast

import "context"

// Broadcaster publishes typed events to whoever is listening.
type Broadcaster interface {
	// BroadcastEvent publishes payload under eventType. It must not block on slow consumers.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Multi fans one event out to several broadcasters, in order.
type Multi []Broadcaster

// BroadcastEvent implements Broadcaster.
func (m Multi) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	for _, b := range m {
		if b != nil {
			b.BroadcastEvent(ctx, eventType, payload)
		}
	}
}

// Nop discards every event.
type Nop struct{}

// BroadcastEvent implements Broadcaster.
func (Nop) BroadcastEvent(context.Context, string, any) {}
