package plugin

import (
	"context"
	"time"
)

// Topics published by the contacts plugin.
const (
	TopicContactCreated = "contact.created"
	TopicContactUpdated = "contact.updated"
	TopicContactDeleted = "contact.deleted"
)

// Event is a notification published on the event bus.
type Event struct {
	Topic     string
	Source    string // Name of the publishing plugin.
	Timestamp time.Time
	Payload   any
}

// EventHandler receives events. Handlers must not block for long.
type EventHandler func(ctx context.Context, e Event)

// EventBus decouples plugins that produce events from those that react to them.
type EventBus interface {
	// Publish calls every matching handler synchronously.
	Publish(ctx context.Context, e Event) error
	// PublishAsync calls every matching handler on its own goroutine.
	PublishAsync(ctx context.Context, e Event)
	// Subscribe registers h for one topic and returns its unsubscribe func.
	Subscribe(topic string, h EventHandler) func()
	// SubscribeAll registers h for every topic.
	SubscribeAll(h EventHandler) func()
}
