package completion

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/draftforge-labs/resumepipeline/pipecore/capability"
	"github.com/draftforge-labs/resumepipeline/pipecore/logging"
)

// =============================================================================
// RATE LIMITED PROVIDER
// =============================================================================

// RateLimited wraps a CompletionProvider and holds calls below a per-model
// requests-per-minute ceiling. When a model's window is full the call waits
// for a slot, bounded by the caller's context, so stage timeouts still apply.
type RateLimited struct {
	inner   capability.CompletionProvider
	limit   int
	windows map[string]*slidingWindow
	logger  logging.Logger
	mu      sync.Mutex
}

// NewRateLimited wraps inner with a ceiling of requestsPerMinute per model.
// A non-positive ceiling disables limiting.
func NewRateLimited(inner capability.CompletionProvider, requestsPerMinute int, logger logging.Logger) *RateLimited {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RateLimited{
		inner:   inner,
		limit:   requestsPerMinute,
		windows: make(map[string]*slidingWindow),
		logger:  logger,
	}
}

// Complete implements capability.CompletionProvider.
func (p *RateLimited) Complete(ctx context.Context, model string, prompt string, options map[string]any) (string, error) {
	if p.limit > 0 {
		if err := p.acquire(ctx, model); err != nil {
			return "", err
		}
	}
	return p.inner.Complete(ctx, model, prompt, options)
}

// acquire blocks until the model's window admits another call or ctx expires.
func (p *RateLimited) acquire(ctx context.Context, model string) error {
	window := p.window(model)
	for {
		now := float64(time.Now().UnixNano()) / 1e9
		ok, retryAfter := window.tryAcquire(now, p.limit)
		if ok {
			return nil
		}

		p.logger.Debug("completion_rate_limited",
			"model", model,
			"limit_per_minute", p.limit,
			"retry_after_seconds", retryAfter,
		)

		select {
		case <-time.After(time.Duration(retryAfter * float64(time.Second))):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *RateLimited) window(model string) *slidingWindow {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.windows[model]
	if !ok {
		w = newSlidingWindow(60)
		p.windows[model] = w
	}
	return w
}

// =============================================================================
// SLIDING WINDOW
// =============================================================================

// slidingWindow counts events over a trailing window using sub-buckets, so
// counts decay smoothly instead of resetting at interval edges.
type slidingWindow struct {
	windowSeconds int
	bucketCount   int
	buckets       map[int64]int
	mu            sync.Mutex
}

func newSlidingWindow(windowSeconds int) *slidingWindow {
	return &slidingWindow{
		windowSeconds: windowSeconds,
		bucketCount:   10,
		buckets:       make(map[int64]int),
	}
}

// tryAcquire records an event when the window is below limit. It returns
// (false, secondsUntilSlot) when the window is full. Check and record happen
// under one lock, so concurrent callers cannot oversubscribe a slot.
func (w *slidingWindow) tryAcquire(now float64, limit int) (bool, float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.countLocked(now) < limit {
		w.recordLocked(now)
		return true, 0
	}
	return false, w.retryAfterLocked(now, limit)
}

// count returns the number of events inside the trailing window.
func (w *slidingWindow) count(now float64) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.countLocked(now)
}

func (w *slidingWindow) bucketSize() float64 {
	return float64(w.windowSeconds) / float64(w.bucketCount)
}

func (w *slidingWindow) recordLocked(now float64) {
	current := int64(now / w.bucketSize())

	// Drop buckets that left the window.
	min := current - int64(w.bucketCount)
	for b := range w.buckets {
		if b < min {
			delete(w.buckets, b)
		}
	}

	w.buckets[current]++
}

func (w *slidingWindow) countLocked(now float64) int {
	min := int64(now/w.bucketSize()) - int64(w.bucketCount)

	total := 0
	for bucket, n := range w.buckets {
		if bucket >= min {
			total += n
		}
	}
	return total
}

// retryAfterLocked walks the oldest live buckets until enough entries expire
// to admit one more event, returning the seconds until that happens.
func (w *slidingWindow) retryAfterLocked(now float64, limit int) float64 {
	min := int64(now/w.bucketSize()) - int64(w.bucketCount)

	var live []int64
	for b := range w.buckets {
		if b >= min {
			live = append(live, b)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })

	excess := w.countLocked(now) - limit + 1
	expired := 0
	for _, b := range live {
		expired += w.buckets[b]
		if expired >= excess {
			wait := float64(b+1)*w.bucketSize() + float64(w.windowSeconds) - now
			if wait < 0 {
				return 0
			}
			return wait
		}
	}
	return float64(w.windowSeconds)
}
