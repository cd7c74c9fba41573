package apikey

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fusevault/core/internal/apperr"
)

// RateLimiter enforces the per-wallet minute-bucket limit (spec.md §4.7
// step 5, invariant 8): "making N+1 requests within one minute as one
// wallet — regardless of how many distinct keys — yields exactly one
// RateLimited". Redis INCR+EXPIRE gives the atomic increment-with-expiry
// spec.md §5 requires for the shared counter.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimiter creates a per-wallet rate limiter allowing limit requests
// per window.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, window: window}
}

func bucketKey(walletAddress string, window time.Duration) string {
	bucket := time.Now().Unix() / int64(window.Seconds())
	return fmt.Sprintf("ratelimit:%s:%d", strings.ToLower(walletAddress), bucket)
}

// Allow increments walletAddress's current-minute bucket and reports
// whether the request is within the configured limit. It fails closed: if
// Redis is unreachable, Allow returns a KindRateLimited error, the same kind
// a caller over the limit gets (spec.md §4.7 step 5: "Fail closed when the
// rate-limit store is unavailable"; spec.md §7 classifies a rate-limit-store
// outage under RateLimited, not DependencyUnavailable).
func (l *RateLimiter) Allow(ctx context.Context, walletAddress string) error {
	key := bucketKey(walletAddress, l.window)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.Wrap(apperr.KindRateLimited, "rate limit store unavailable", err)
	}

	if incr.Val() > int64(l.limit) {
		return apperr.New(apperr.KindRateLimited, "per-wallet request rate limit exceeded")
	}
	return nil
}
