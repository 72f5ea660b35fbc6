// Package observer watches peer liveness and account expiry, publishing
// state transitions as typed events.
package observer

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Handler consumes one event. Handlers run synchronously in registration
// order, each finishing before the next starts.
type Handler[T any] func(ctx context.Context, event T) error

// Bus fans one event type out to its registered handlers. A handler
// error or panic is logged and does not stop the chain.
type Bus[T any] struct {
	mu       sync.Mutex
	handlers []Handler[T]
	log      zerolog.Logger
}

// NewBus builds an empty bus for one event type.
func NewBus[T any](logger zerolog.Logger) *Bus[T] {
	var zero T
	return &Bus[T]{
		log: logger.With().Str("component", "bus").Str("event", fmt.Sprintf("%T", zero)).Logger(),
	}
}

// Register appends a handler to the chain.
func (b *Bus[T]) Register(h Handler[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Trigger runs the chain for one event.
func (b *Bus[T]) Trigger(ctx context.Context, event T) {
	b.mu.Lock()
	handlers := make([]Handler[T], len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for i, h := range handlers {
		if err := b.invoke(ctx, h, event); err != nil {
			b.log.Error().Err(err).Int("handler", i).Msg("event handler failed")
		}
	}
}

func (b *Bus[T]) invoke(ctx context.Context, h Handler[T], event T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, event)
}
