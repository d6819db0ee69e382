// Package event implements the in-process event bus shared by plugins.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/HerbHall/phonebook/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var _ plugin.EventBus = (*Bus)(nil)

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "phonebook",
	Name:      "events_total",
	Help:      "Events published on the bus by topic.",
}, []string{"topic"})

type subscription struct {
	id int
	h  plugin.EventHandler
}

// Bus is a topic-based publish/subscribe dispatcher. A panicking handler is
// logged and does not stop delivery to the others.
type Bus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	nextID int
	topics map[string][]subscription
	all    []subscription
}

// NewBus returns an empty Bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger,
		topics: make(map[string][]subscription),
	}
}

func (b *Bus) Publish(ctx context.Context, e plugin.Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	eventsTotal.WithLabelValues(e.Topic).Inc()
	for _, h := range b.handlers(e.Topic) {
		b.call(ctx, h, e)
	}
	return nil
}

func (b *Bus) PublishAsync(ctx context.Context, e plugin.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	eventsTotal.WithLabelValues(e.Topic).Inc()
	for _, h := range b.handlers(e.Topic) {
		go b.call(ctx, h, e)
	}
}

func (b *Bus) Subscribe(topic string, h plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.topics[topic] = append(b.topics[topic], subscription{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.topics[topic] = without(b.topics[topic], id)
		if len(b.topics[topic]) == 0 {
			delete(b.topics, topic)
		}
	}
}

func (b *Bus) SubscribeAll(h plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.all = append(b.all, subscription{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = without(b.all, id)
	}
}

// handlers snapshots the handlers for topic: topic subscribers first, then
// catch-all subscribers.
func (b *Bus) handlers(topic string) []plugin.EventHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]plugin.EventHandler, 0, len(b.topics[topic])+len(b.all))
	for _, s := range b.topics[topic] {
		out = append(out, s.h)
	}
	for _, s := range b.all {
		out = append(out, s.h)
	}
	return out
}

func (b *Bus) call(ctx context.Context, h plugin.EventHandler, e plugin.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", e.Topic),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, e)
}

func without(subs []subscription, id int) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
