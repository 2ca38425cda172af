package eventbus

import (
	"context"
	"sync"

	"github.com/draftforge-labs/resumepipeline/pipecore/logging"
)

// Handler processes one event. Handlers run concurrently with other
// subscribers of the same event and must be safe for that.
type Handler func(ctx context.Context, event Event) error

type subscription struct {
	id      int
	handler Handler
}

// Bus is an in-memory event bus for single-process deployments.
//
// Publish fans an event out to every subscriber of its kind concurrently
// and waits for all of them. Middleware wraps delivery for cross-cutting
// concerns. All methods are safe for concurrent use.
//
// Usage:
//
//	bus := eventbus.New(logger)
//	bus.AddMiddleware(eventbus.NewLoggingMiddleware(logger))
//
//	cancel := bus.Subscribe(eventbus.KindStageFailed, alertHandler)
//	defer cancel()
//
//	bus.Publish(ctx, &eventbus.StageStarted{RunID: id, Stage: "extract_resume"})
type Bus struct {
	subscribers map[EventKind][]subscription
	middleware  []Middleware
	logger      logging.Logger
	nextID      int
	mu          sync.RWMutex
}

// New creates an empty bus. A nil logger silences the bus's own logging;
// subscribers and middleware carry their own.
func New(logger logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bus{
		subscribers: make(map[EventKind][]subscription),
		middleware:  make([]Middleware, 0),
		logger:      logger,
	}
}

// =============================================================================
// MESSAGING
// =============================================================================

// Publish delivers event to every subscriber of its kind, concurrently,
// and returns once all have finished. Subscriber errors are logged and
// passed to middleware but never returned: publishing is fire-and-forget.
// The only error Publish returns is a middleware rejection.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	kind := event.Kind()

	processed, err := b.runMiddlewareBefore(ctx, event)
	if err != nil {
		return err
	}
	if processed == nil {
		b.logger.Debug("event_aborted_by_middleware", "kind", string(kind))
		return nil
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subscribers[kind]))
	copy(subs, b.subscribers[kind])
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.runMiddlewareAfter(ctx, processed, nil)
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(subs))
	for i, sub := range subs {
		wg.Add(1)
		go func(idx int, h Handler) {
			defer wg.Done()
			errs[idx] = h(ctx, processed)
		}(i, sub.handler)
	}
	wg.Wait()

	var firstErr error
	for i, err := range errs {
		if err == nil {
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
		b.logger.Warn("event_subscriber_failed",
			"kind", string(kind), "subscriber", i, "error", err.Error())
	}

	b.runMiddlewareAfter(ctx, processed, firstErr)
	return nil
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Subscribe registers handler for one event kind and returns a function
// that removes the subscription. Removal is by subscription identity, so
// the same handler can be registered more than once.
func (b *Bus) Subscribe(kind EventKind, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[kind] = append(b.subscribers[kind], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[kind]
		for i, sub := range subs {
			if sub.id == id {
				b.subscribers[kind] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// AddMiddleware appends middleware to the chain. Before hooks run in
// registration order, After hooks in reverse.
func (b *Bus) AddMiddleware(middleware Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, middleware)
}

// =============================================================================
// INTROSPECTION AND LIFECYCLE
// =============================================================================

// SubscriberCount reports how many subscribers an event kind has.
func (b *Bus) SubscriberCount(kind EventKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[kind])
}

// Clear removes all subscribers and middleware. Useful in tests.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[EventKind][]subscription)
	b.middleware = make([]Middleware, 0)
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (b *Bus) runMiddlewareBefore(ctx context.Context, event Event) (Event, error) {
	b.mu.RLock()
	chain := make([]Middleware, len(b.middleware))
	copy(chain, b.middleware)
	b.mu.RUnlock()

	current := event
	for _, mw := range chain {
		next, err := mw.Before(ctx, current)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		current = next
	}
	return current, nil
}

func (b *Bus) runMiddlewareAfter(ctx context.Context, event Event, err error) {
	b.mu.RLock()
	chain := make([]Middleware, len(b.middleware))
	copy(chain, b.middleware)
	b.mu.RUnlock()

	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].After(ctx, event, err)
	}
}
