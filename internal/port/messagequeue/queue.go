// Package messagequeue defines the port interface for the durable message queue.
package messagequeue

import "context"

// Subject patterns published by the core. Run lifecycle events go out as
// runs.<tenant_id>.<event_type>.
const (
	SubjectRunsPrefix = "runs."
)

// Handler processes a received message. Returning an error causes a redelivery.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publish/subscribe messaging.
type Queue interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)
	Close() error
}
