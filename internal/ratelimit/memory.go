package ratelimit

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter keeps buckets in process. It backs the in-memory store
// deployment, where there is no Redis to share state through.
type MemoryLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	now      func() time.Time
}

type entry struct {
	lim    *rate.Limiter
	bucket Bucket
	seen   time.Time
}

// idleEviction drops buckets untouched for this long; a full refill takes less.
const idleEviction = time.Hour

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{limiters: make(map[string]*entry), now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || !bucket.Enabled() {
		return Decision{Allowed: true}, nil
	}
	key := strings.TrimSpace(scope) + "|" + strings.TrimSpace(subject)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(now)
	e, ok := l.limiters[key]
	if !ok || e.bucket != bucket {
		e = &entry{
			lim:    rate.NewLimiter(rate.Limit(float64(bucket.RequestsPerMinute)/60.0), bucket.BurstSize),
			bucket: bucket,
		}
		l.limiters[key] = e
	}
	e.seen = now

	r := e.lim.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Allowed: false, RetryAfter: time.Minute}, nil
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return Decision{Allowed: true, Remaining: int(math.Floor(e.lim.TokensAt(now)))}, nil
	}
	r.CancelAt(now)
	retry := delay.Round(time.Second)
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}

func (l *MemoryLimiter) evict(now time.Time) {
	for k, e := range l.limiters {
		if now.Sub(e.seen) > idleEviction {
			delete(l.limiters, k)
		}
	}
}
