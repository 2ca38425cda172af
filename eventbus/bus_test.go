package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// TEST HELPERS
// =============================================================================

func countingHandler(counter *int32) Handler {
	return func(ctx context.Context, event Event) error {
		atomic.AddInt32(counter, 1)
		return nil
	}
}

func failingHandler(errMsg string) Handler {
	return func(ctx context.Context, event Event) error {
		return errors.New(errMsg)
	}
}

// trackingMiddleware records the order of its hook invocations.
type trackingMiddleware struct {
	order *[]string
	mu    *sync.Mutex
	name  string
}

func (m *trackingMiddleware) Before(ctx context.Context, event Event) (Event, error) {
	m.mu.Lock()
	*m.order = append(*m.order, m.name+"-before")
	m.mu.Unlock()
	return event, nil
}

func (m *trackingMiddleware) After(ctx context.Context, event Event, err error) {
	m.mu.Lock()
	*m.order = append(*m.order, m.name+"-after")
	m.mu.Unlock()
}

// errorTrackingMiddleware captures the delivery error After sees.
type errorTrackingMiddleware struct {
	captured error
	mu       sync.Mutex
}

func (m *errorTrackingMiddleware) Before(ctx context.Context, event Event) (Event, error) {
	return event, nil
}

func (m *errorTrackingMiddleware) After(ctx context.Context, event Event, err error) {
	m.mu.Lock()
	m.captured = err
	m.mu.Unlock()
}

func (m *errorTrackingMiddleware) capturedError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captured
}

// droppingMiddleware drops every event by returning nil from Before.
type droppingMiddleware struct{}

func (m *droppingMiddleware) Before(ctx context.Context, event Event) (Event, error) {
	return nil, nil
}

func (m *droppingMiddleware) After(ctx context.Context, event Event, err error) {}

// rejectingMiddleware rejects every event with an error.
type rejectingMiddleware struct{}

func (m *rejectingMiddleware) Before(ctx context.Context, event Event) (Event, error) {
	return nil, errors.New("rejected by middleware")
}

func (m *rejectingMiddleware) After(ctx context.Context, event Event, err error) {}

// =============================================================================
// PUBLISH TESTS
// =============================================================================

func TestPublishDeliversToSubscriber(t *testing.T) {
	// Test that a subscriber receives the typed event it subscribed to.
	bus := New(nil)

	var captured *StageStarted
	bus.Subscribe(KindStageStarted, func(ctx context.Context, event Event) error {
		captured = event.(*StageStarted)
		return nil
	})

	err := bus.Publish(context.Background(), &StageStarted{RunID: "r1", Stage: "extract_resume"})

	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, "r1", captured.RunID)
	assert.Equal(t, "extract_resume", captured.Stage)
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	// Test that every subscriber of a kind sees the event. Publish waits
	// for delivery, so counts are final when it returns.
	bus := New(nil)

	var count1, count2 int32
	bus.Subscribe(KindStageStarted, countingHandler(&count1))
	bus.Subscribe(KindStageStarted, countingHandler(&count2))

	err := bus.Publish(context.Background(), &StageStarted{RunID: "r1", Stage: "ingest_resume"})

	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count1))
	assert.Equal(t, int32(1), atomic.LoadInt32(&count2))
}

func TestPublishIgnoresOtherKinds(t *testing.T) {
	// Test that subscribers only see the kind they registered for.
	bus := New(nil)

	var count int32
	bus.Subscribe(KindStageFailed, countingHandler(&count))

	require.NoError(t, bus.Publish(context.Background(), &StageStarted{RunID: "r1", Stage: "x"}))

	assert.Equal(t, int32(0), atomic.LoadInt32(&count))
}

func TestPublishNoSubscribers(t *testing.T) {
	// Test that publishing without subscribers is not an error.
	bus := New(nil)

	err := bus.Publish(context.Background(), &RunStarted{RunID: "r1", Plan: "resume_optimization"})

	assert.NoError(t, err)
}

func TestSubscriberErrorDoesNotFailPublish(t *testing.T) {
	// Test that one failing subscriber neither fails Publish nor starves
	// the other subscribers.
	bus := New(nil)

	var count int32
	bus.Subscribe(KindStageFailed, failingHandler("subscriber exploded"))
	bus.Subscribe(KindStageFailed, countingHandler(&count))

	err := bus.Publish(context.Background(), &StageFailed{RunID: "r1", Stage: "x", Error: "boom"})

	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

// =============================================================================
// SUBSCRIPTION TESTS
// =============================================================================

func TestUnsubscribeStopsDelivery(t *testing.T) {
	// Test that the returned cancel function removes exactly its own
	// subscription.
	bus := New(nil)

	var count int32
	cancel := bus.Subscribe(KindLoopIteration, countingHandler(&count))

	require.NoError(t, bus.Publish(context.Background(), &LoopIteration{RunID: "r1", Iteration: 1}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))

	cancel()

	require.NoError(t, bus.Publish(context.Background(), &LoopIteration{RunID: "r1", Iteration: 2}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
	assert.Equal(t, 0, bus.SubscriberCount(KindLoopIteration))
}

func TestUnsubscribeLeavesDuplicateRegistration(t *testing.T) {
	// Test that the same handler registered twice has independent
	// subscriptions.
	bus := New(nil)

	var count int32
	handler := countingHandler(&count)
	cancelFirst := bus.Subscribe(KindRunCompleted, handler)
	bus.Subscribe(KindRunCompleted, handler)

	cancelFirst()

	require.NoError(t, bus.Publish(context.Background(), &RunCompleted{RunID: "r1", Status: "failed"}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestClearRemovesEverything(t *testing.T) {
	// Test that Clear drops subscribers and middleware.
	bus := New(nil)

	var count int32
	bus.Subscribe(KindStageStarted, countingHandler(&count))
	bus.AddMiddleware(&rejectingMiddleware{})

	bus.Clear()

	require.NoError(t, bus.Publish(context.Background(), &StageStarted{RunID: "r1", Stage: "x"}))
	assert.Equal(t, int32(0), atomic.LoadInt32(&count))
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

func TestMiddlewareRejectionReturned(t *testing.T) {
	// Test that a Before error stops delivery and surfaces to the caller.
	bus := New(nil)

	var count int32
	bus.Subscribe(KindStageStarted, countingHandler(&count))
	bus.AddMiddleware(&rejectingMiddleware{})

	err := bus.Publish(context.Background(), &StageStarted{RunID: "r1", Stage: "x"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected by middleware")
	assert.Equal(t, int32(0), atomic.LoadInt32(&count))
}

func TestMiddlewareDropSilencesEvent(t *testing.T) {
	// Test that Before returning nil drops the event without error.
	bus := New(nil)

	var count int32
	bus.Subscribe(KindStageStarted, countingHandler(&count))
	bus.AddMiddleware(&droppingMiddleware{})

	err := bus.Publish(context.Background(), &StageStarted{RunID: "r1", Stage: "x"})

	require.NoError(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&count))
}

func TestMiddlewareOrder(t *testing.T) {
	// Test that Before hooks run in registration order and After hooks in
	// reverse.
	bus := New(nil)

	var order []string
	var mu sync.Mutex
	bus.AddMiddleware(&trackingMiddleware{order: &order, mu: &mu, name: "a"})
	bus.AddMiddleware(&trackingMiddleware{order: &order, mu: &mu, name: "b"})

	require.NoError(t, bus.Publish(context.Background(), &RunStarted{RunID: "r1"}))

	assert.Equal(t, []string{"a-before", "b-before", "b-after", "a-after"}, order)
}

func TestMiddlewareAfterSeesSubscriberError(t *testing.T) {
	// Test that the first subscriber error reaches After even though
	// Publish swallows it.
	bus := New(nil)

	tracker := &errorTrackingMiddleware{}
	bus.AddMiddleware(tracker)
	bus.Subscribe(KindStageFailed, failingHandler("delivery broke"))

	require.NoError(t, bus.Publish(context.Background(), &StageFailed{RunID: "r1", Stage: "x", Error: "boom"}))

	require.Error(t, tracker.capturedError())
	assert.Contains(t, tracker.capturedError().Error(), "delivery broke")
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	// Test that concurrent publishers and subscribers do not race or
	// deadlock and every published event is counted.
	bus := New(nil)

	var delivered int32
	for i := 0; i < 4; i++ {
		bus.Subscribe(KindLoopIteration, countingHandler(&delivered))
	}

	const publishers = 8
	const perPublisher = 25

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				event := &LoopIteration{RunID: fmt.Sprintf("r%d", p), Iteration: i + 1}
				assert.NoError(t, bus.Publish(context.Background(), event))
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, int32(4*publishers*perPublisher), atomic.LoadInt32(&delivered))
}
