package engine

import "context"

// EventPublisher receives execution events. Publish is called synchronously
// from the engine's workers and should not block.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// EventPublisherFunc adapts a function to EventPublisher.
type EventPublisherFunc func(ctx context.Context, event *Event) error

// Publish implements EventPublisher.
func (f EventPublisherFunc) Publish(ctx context.Context, event *Event) error {
	return f(ctx, event)
}
