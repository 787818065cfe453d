package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitBurstThenRefill(t *testing.T) {
	l := newLimiter(RateLimitConfig{Rate: 1, Burst: 3})
	now := time.Now()

	for i := 0; i < 3; i++ {
		_, allowed := l.take("a", now)
		require.True(t, allowed, "request %d within burst", i)
	}
	_, allowed := l.take("a", now)
	assert.False(t, allowed, "burst exhausted")

	// One second refills one token.
	_, allowed = l.take("a", now.Add(time.Second))
	assert.True(t, allowed)
	_, allowed = l.take("a", now.Add(time.Second))
	assert.False(t, allowed)
}

func TestRateLimitKeysAreIndependent(t *testing.T) {
	l := newLimiter(RateLimitConfig{Rate: 1, Burst: 1})
	now := time.Now()

	_, allowed := l.take("a", now)
	require.True(t, allowed)
	_, allowed = l.take("a", now)
	require.False(t, allowed)

	_, allowed = l.take("b", now)
	assert.True(t, allowed, "other client keeps its own bucket")
}

func TestRateLimitMiddlewareResponds429(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := Wrap(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
		RateLimit(ctx, RateLimitConfig{Rate: 0.001, Burst: 1}),
	)

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	h.ServeHTTP(first, req)
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"message":"rate limit exceeded"}`, second.Body.String())
}

func TestSweepDropsIdleBuckets(t *testing.T) {
	l := newLimiter(RateLimitConfig{Rate: 1, Burst: 1})
	now := time.Now()

	l.take("a", now)
	l.sweep(now.Add(time.Hour))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.buckets)
}
