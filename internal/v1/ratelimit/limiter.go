// Package ratelimit implements the broker's token-bucket limiting, reusing
// the teacher's pattern of picking a redis-backed or in-memory
// ulule/limiter store depending on whether a Redis client is configured.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	memorystore "github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/agentbus/broker/internal/v1/metrics"
)

// RateLimiter enforces the uniform token-bucket limit applied to socket
// frames, polling posts, and room actions alike: default capacity 60,
// refill rate 60/min, keyed by client_id (or source address when
// unauthenticated).
type RateLimiter struct {
	limiter *limiter.Limiter
}

// NewRateLimiter builds a limiter with the given per-minute rate. If
// redisClient is non-nil, buckets are shared across broker instances;
// otherwise an in-memory store is used.
func NewRateLimiter(redisClient *redis.Client, perMinute int) (*RateLimiter, error) {
	rate := limiter.Rate{
		Period: time.Minute,
		Limit:  int64(perMinute),
	}

	var store limiter.Store
	var err error
	if redisClient != nil {
		store, err = redisstore.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "agentbus_ratelimit",
		})
		if err != nil {
			return nil, fmt.Errorf("ratelimit: redis store: %w", err)
		}
	} else {
		store = memorystore.NewStore()
	}

	return &RateLimiter{limiter: limiter.New(store, rate)}, nil
}

// Result mirrors the fields the caller needs to build a 429 response.
type Result struct {
	Allowed       bool
	Remaining     int64
	RetryAfterMs  int64
	LimitCapacity int64
}

// Check consumes one token for key (a client_id or source address) and
// reports whether the operation is permitted.
func (r *RateLimiter) Check(ctx context.Context, key string) (Result, error) {
	ctxResult, err := r.limiter.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if ctxResult.Reached {
		metrics.RateLimitRejections.WithLabelValues(key).Inc()
		retryMs := int64(0)
		if ctxResult.Reset > 0 {
			retryMs = ctxResult.Reset*1000 - time.Now().UnixMilli()
			if retryMs < 0 {
				retryMs = 0
			}
		}
		return Result{Allowed: false, Remaining: 0, RetryAfterMs: retryMs, LimitCapacity: ctxResult.Limit}, nil
	}
	return Result{Allowed: true, Remaining: ctxResult.Remaining, LimitCapacity: ctxResult.Limit}, nil
}

// GlobalMiddleware wraps a net/http handler with a rate-limit check; the
// bucket key is whatever keyFunc returns for the request.
func (r *RateLimiter) GlobalMiddleware(keyFunc func(req *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			key := keyFunc(req)
			res, err := r.Check(req.Context(), key)
			if err != nil {
				next.ServeHTTP(w, req)
				return
			}
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", res.LimitCapacity))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))
			if !res.Allowed {
				w.Header().Set("Retry-After-Ms", fmt.Sprintf("%d", res.RetryAfterMs))
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
