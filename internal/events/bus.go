package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus is an asynchronous publish-subscribe bus. Handlers run on their
// own goroutines; a panicking handler is logged and does not affect others.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		stopCh:   make(chan struct{}),
	}
}

// Subscribe registers a handler for eventType. name identifies the handler
// in logs and in Unsubscribe.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
	})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// SubscribeMany registers the same handler for several event types.
func (eb *EventBus) SubscribeMany(types []EventType, name string, handler HandlerFunc) {
	for _, t := range types {
		eb.Subscribe(t, name, handler)
	}
}

// Unsubscribe removes a named handler from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers, exists := eb.handlers[eventType]
	if !exists {
		return
	}

	filtered := handlers[:0:0]
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	eb.handlers[eventType] = filtered
}

func (eb *EventBus) snapshot(event EventType) ([]handlerEntry, bool) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.stopped {
		return nil, false
	}
	handlers := eb.handlers[event]
	if len(handlers) == 0 {
		return nil, false
	}
	out := make([]handlerEntry, len(handlers))
	copy(out, handlers)
	return out, true
}

func (eb *EventBus) run(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = h.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
	}
	return err
}

// Emit publishes an event to all subscribed handlers without waiting.
// Events without a timestamp are stamped with the current time.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	// wg.Add happens under the read lock so Stop cannot miss these goroutines.
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.stopped {
		return
	}

	handlers := eb.handlers[event.Type]
	if len(handlers) == 0 {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlers)).
		Msg("emitting event")

	for _, h := range handlers {
		h := h
		eb.wg.Add(1)
		go func() {
			defer eb.wg.Done()
			eb.run(ctx, h, event)
		}()
	}
}

// EmitSync publishes an event and waits for all handlers to complete.
// Returns the first error encountered, if any.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	handlers, ok := eb.snapshot(event.Type)
	if !ok {
		return nil
	}

	var (
		firstErr error
		errOnce  sync.Once
		wg       sync.WaitGroup
	)
	for _, h := range handlers {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := eb.run(ctx, h, event); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}()
	}

	wg.Wait()
	return firstErr
}

// Stop stops accepting new events and waits for in-flight handlers.
// Calling Stop more than once is safe.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for a specific event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
