package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Bucket is a refill rate plus burst capacity. A zero field disables limiting.
type Bucket struct {
	RequestsPerMinute int
	BurstSize         int
}

func (b Bucket) Enabled() bool {
	return b.RequestsPerMinute > 0 && b.BurstSize > 0
}

func (b Bucket) perSecond() float64 { return float64(b.RequestsPerMinute) / 60.0 }

type Decision struct {
	Allowed bool
	// Remaining is the whole number of tokens left after this decision.
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether subject may spend one token from its bucket in scope.
type Limiter interface {
	Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error)
}

// TokenBucketLimiter shares bucket state through Redis so every server
// process enforces the same submit budget.
type TokenBucketLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

func NewTokenBucketLimiter(rdb *redis.Client) *TokenBucketLimiter {
	return &TokenBucketLimiter{rdb: rdb, now: time.Now}
}

// KEYS[1] bucket hash; ARGV rate (tokens/s), capacity, now (ms), ttl (ms).
// Returns {allowed, retry_after_s, remaining}.
var submitBucketScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
if now < ts then ts = now end

tokens = math.min(capacity, tokens + (now - ts) * rate / 1000.0)

local allowed, retry = 0, 0
if tokens >= 1.0 then
  allowed = 1
  tokens = tokens - 1.0
elseif rate > 0 then
  retry = math.max(1, math.ceil((1.0 - tokens) / rate))
else
  retry = 60
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], tonumber(ARGV[4]))
return {allowed, retry, math.floor(tokens)}
`)

func (l *TokenBucketLimiter) Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || l.rdb == nil || !bucket.Enabled() {
		return Decision{Allowed: true, Remaining: bucket.BurstSize}, nil
	}
	now := time.Now
	if l.now != nil {
		now = l.now
	}

	args := []interface{}{bucket.perSecond(), bucket.BurstSize, now().UTC().UnixMilli(), bucketTTL(bucket).Milliseconds()}
	res, err := submitBucketScript.Run(ctx, l.rdb, []string{bucketKey(scope, subject)}, args...).Result()
	if err != nil {
		return Decision{}, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit reply: %T", res)
	}
	allowed, _ := vals[0].(int64)
	retry, _ := vals[1].(int64)
	remaining, _ := vals[2].(int64)

	if allowed == 1 {
		return Decision{Allowed: true, Remaining: int(remaining)}, nil
	}
	if retry <= 0 {
		retry = 1
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(retry) * time.Second}, nil
}

// bucketKey hashes the subject so bearer tokens never appear in Redis keys.
func bucketKey(scope, subject string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "default"
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "unknown"
	}
	sum := sha256.Sum256([]byte(subject))
	return "netdemo:rl:" + scope + ":" + hex.EncodeToString(sum[:])
}

// bucketTTL keeps idle state for two full refills, clamped to [30s, 1h].
func bucketTTL(b Bucket) time.Duration {
	const (
		minTTL = 30 * time.Second
		maxTTL = time.Hour
	)
	fill := float64(b.BurstSize) / b.perSecond()
	ttl := time.Duration(math.Ceil(fill*2))*time.Second + 5*time.Second
	switch {
	case ttl < minTTL:
		return minTTL
	case ttl > maxTTL:
		return maxTTL
	}
	return ttl
}
