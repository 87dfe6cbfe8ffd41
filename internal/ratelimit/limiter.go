// Package ratelimit bounds request frequency per client identity using
// fixed-window counters in the shared cache.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"contacts-api/internal/cache"
)

type Limiter struct {
	counters cache.Cache
	max      int64
	window   time.Duration
}

func New(counters cache.Cache, max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &Limiter{
		counters: counters,
		max:      int64(max),
		window:   window,
	}
}

// Allow records a hit for the client on the endpoint and reports whether it
// stays within the window's budget. When denied, retryAfter is the time
// until the window resets. The underlying increment is atomic per key, so
// concurrent requests from one client can't slip past the threshold.
func (l *Limiter) Allow(ctx context.Context, clientID, endpoint string) (bool, time.Duration, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", endpoint, clientID)

	count, resetIn, err := l.counters.Incr(ctx, key, l.window)
	if err != nil {
		return false, 0, fmt.Errorf("increment rate limit counter: %w", err)
	}

	if count > l.max {
		retryAfter := resetIn
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return false, retryAfter, nil
	}

	return true, 0, nil
}
