package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_AllowsWithinCapacity(t *testing.T) {
	rl, err := NewRateLimiter(nil, 5)
	require.NoError(t, err)

	res, err := rl.Check(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(5), res.LimitCapacity)
}

func TestCheck_RejectsOnceCapacityExhausted(t *testing.T) {
	rl, err := NewRateLimiter(nil, 2)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := rl.Check(context.Background(), "alice")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := rl.Check(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
}

func TestCheck_KeysAreIndependent(t *testing.T) {
	rl, err := NewRateLimiter(nil, 1)
	require.NoError(t, err)

	res, err := rl.Check(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = rl.Check(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "bob's bucket is independent of alice's")
}

func TestGlobalMiddleware_RejectsWith429AndHeaders(t *testing.T) {
	rl, err := NewRateLimiter(nil, 1)
	require.NoError(t, err)

	handlerCalls := 0
	mw := rl.GlobalMiddleware(func(req *http.Request) string { return "shared-key" })
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalls++
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
	assert.NotEmpty(t, rec2.Header().Get("Retry-After-Ms"))

	assert.Equal(t, 1, handlerCalls, "the rejected request must never reach the wrapped handler")
}

func TestGlobalMiddleware_SetsRateLimitHeadersOnSuccess(t *testing.T) {
	rl, err := NewRateLimiter(nil, 3)
	require.NoError(t, err)

	mw := rl.GlobalMiddleware(func(req *http.Request) string { return "k" })
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	limit, err := strconv.ParseInt(rec.Header().Get("X-RateLimit-Limit"), 10, 64)
	require.NoError(t, err)
	assert.Equal(t, int64(3), limit)
}
