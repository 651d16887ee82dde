// Package broadcast defines the port interface for pushing events to clients.
package broadcast

import "context"

// Broadcaster fans an event out to all connected clients. Implementations
// must never block the caller on slow clients.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Noop is a Broadcaster that discards everything; used in tests and when no
// hub is wired.
type Noop struct{}

// BroadcastEvent implements Broadcaster.
func (Noop) BroadcastEvent(context.Context, string, any) {}
