package eventbus

import (
	"context"

	"github.com/draftforge-labs/resumepipeline/pipecore/logging"
)

// Middleware intercepts events around delivery. Before may rewrite the
// event, return an error to reject it, or return nil to drop it silently.
// After observes the delivered event along with the first subscriber
// error, if any.
type Middleware interface {
	Before(ctx context.Context, event Event) (Event, error)
	After(ctx context.Context, event Event, err error)
}

// =============================================================================
// LOGGING MIDDLEWARE
// =============================================================================

// LoggingMiddleware logs all bus traffic at debug level, with delivery
// failures promoted to warnings.
type LoggingMiddleware struct {
	logger logging.Logger
}

// NewLoggingMiddleware creates a LoggingMiddleware.
func NewLoggingMiddleware(logger logging.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LoggingMiddleware{logger: logger}
}

// Before logs event receipt.
func (m *LoggingMiddleware) Before(ctx context.Context, event Event) (Event, error) {
	m.logger.Debug("event_published", "kind", string(event.Kind()))
	return event, nil
}

// After logs delivery failures.
func (m *LoggingMiddleware) After(ctx context.Context, event Event, err error) {
	if err != nil {
		m.logger.Warn("event_delivery_failed", "kind", string(event.Kind()), "error", err.Error())
	}
}

var _ Middleware = (*LoggingMiddleware)(nil)
