package eventbus

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Handler handles one event. The context is detached from the publisher's
// request so handlers outlive it.
type Handler[T any] func(ctx context.Context, event T)

// Bus provides in-process pub/sub keyed by dotted topic names. A
// subscription to "bid.*" receives every topic starting with "bid.";
// "*" receives everything.
type Bus[T any] struct {
	topicOf  func(T) string
	handlers map[string][]Handler[T]
	mu       sync.RWMutex
	inflight sync.WaitGroup
	logger   *zap.Logger
}

// New creates a Bus that routes each event by topicOf(event).
func New[T any](topicOf func(T) string, logger *zap.Logger) *Bus[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus[T]{
		topicOf:  topicOf,
		handlers: make(map[string][]Handler[T]),
		logger:   logger,
	}
}

// Subscribe registers a handler for a topic pattern.
func (b *Bus[T]) Subscribe(pattern string, handler Handler[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[pattern] = append(b.handlers[pattern], handler)
}

// Publish fans event out to every matching handler on its own goroutine.
func (b *Bus[T]) Publish(ctx context.Context, event T) {
	ctx = context.WithoutCancel(ctx)
	for _, h := range b.matching(b.topicOf(event)) {
		b.inflight.Add(1)
		go func(h Handler[T]) {
			defer b.inflight.Done()
			b.call(ctx, h, event)
		}(h)
	}
}

// Notify is Publish under the name the negotiation coordinator expects.
func (b *Bus[T]) Notify(ctx context.Context, event T) {
	b.Publish(ctx, event)
}

// PublishSync calls every matching handler before returning.
func (b *Bus[T]) PublishSync(ctx context.Context, event T) {
	for _, h := range b.matching(b.topicOf(event)) {
		b.call(ctx, h, event)
	}
}

// Wait blocks until every asynchronous delivery has returned or ctx ends.
func (b *Bus[T]) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HasSubscribers reports whether any handler matches topic.
func (b *Bus[T]) HasSubscribers(topic string) bool {
	return len(b.matching(topic)) > 0
}

// SubscriberCount returns the number of handlers matching topic.
func (b *Bus[T]) SubscriberCount(topic string) int {
	return len(b.matching(topic))
}

func (b *Bus[T]) matching(topic string) []Handler[T] {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Handler[T]
	for pattern, hs := range b.handlers {
		if matches(pattern, topic) {
			out = append(out, hs...)
		}
	}
	return out
}

func (b *Bus[T]) call(ctx context.Context, h Handler[T], event T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("eventbus.handler_panic",
				zap.String("topic", b.topicOf(event)),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, event)
}

func matches(pattern, topic string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(topic, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == topic
	}
}
