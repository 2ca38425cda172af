package completion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// SLIDING WINDOW TESTS
// =============================================================================

func TestSlidingWindowAdmitsBelowLimit(t *testing.T) {
	w := newSlidingWindow(60)

	ok, retryAfter := w.tryAcquire(100.0, 2)
	assert.True(t, ok)
	assert.Zero(t, retryAfter)

	ok, _ = w.tryAcquire(100.1, 2)
	assert.True(t, ok)
	assert.Equal(t, 2, w.count(100.2))
}

func TestSlidingWindowRejectsAtLimit(t *testing.T) {
	// A full window rejects with a positive retry hint and records nothing.
	w := newSlidingWindow(60)
	w.tryAcquire(100.0, 2)
	w.tryAcquire(100.1, 2)

	ok, retryAfter := w.tryAcquire(100.2, 2)
	assert.False(t, ok)
	assert.Greater(t, retryAfter, 0.0)
	assert.Equal(t, 2, w.count(100.2))
}

func TestSlidingWindowDecays(t *testing.T) {
	// Events outside the trailing window stop counting and slots reopen.
	w := newSlidingWindow(60)
	w.tryAcquire(100.0, 1)

	ok, _ := w.tryAcquire(101.0, 1)
	assert.False(t, ok)

	assert.Equal(t, 0, w.count(170.0))
	ok, _ = w.tryAcquire(170.0, 1)
	assert.True(t, ok)
}

// =============================================================================
// RATE LIMITED PROVIDER TESTS
// =============================================================================

func TestRateLimitedPassesThroughUnderLimit(t *testing.T) {
	inner := NewScripted().WithFallback("ok")
	p := NewRateLimited(inner, 100, nil)

	for i := 0; i < 5; i++ {
		out, err := p.Complete(context.Background(), "m", "prompt", nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	}
	assert.Equal(t, 5, inner.CallCount())
}

func TestRateLimitedZeroCeilingDisablesLimiting(t *testing.T) {
	inner := NewScripted().WithFallback("ok")
	p := NewRateLimited(inner, 0, nil)

	for i := 0; i < 20; i++ {
		_, err := p.Complete(context.Background(), "m", "prompt", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 20, inner.CallCount())
}

func TestRateLimitedWaitBoundedByContext(t *testing.T) {
	// With the window full the wrapper waits for a slot; the caller's
	// context cuts that wait short.
	inner := NewScripted().WithFallback("ok")
	p := NewRateLimited(inner, 1, nil)

	_, err := p.Complete(context.Background(), "m", "prompt", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = p.Complete(ctx, "m", "prompt", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, inner.CallCount())
}

func TestRateLimitedWindowsPerModel(t *testing.T) {
	// Each model gets its own window, so saturating one model does not
	// starve another.
	inner := NewScripted().WithFallback("ok")
	p := NewRateLimited(inner, 1, nil)

	_, err := p.Complete(context.Background(), "model-a", "prompt", nil)
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), "model-b", "prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.CallCount())
}
