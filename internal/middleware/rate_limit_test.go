package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/osvaldoandrade/netdemo/internal/ratelimit"
	"github.com/osvaldoandrade/netdemo/pkg/config"

	"github.com/gin-gonic/gin"
)

// mockLimiter implements ratelimit.Limiter for testing
type mockLimiter struct {
	decision ratelimit.Decision
	err      error
	subject  string
	calls    int
}

func (m *mockLimiter) Allow(ctx context.Context, scope string, subject string, bucket ratelimit.Bucket) (ratelimit.Decision, error) {
	m.calls++
	m.subject = subject
	return m.decision, m.err
}

func submitConfig(rpm, burst int) *config.Config {
	return &config.Config{RateLimit: config.RateLimitConfig{
		Submit: config.RateLimitBucket{RequestsPerMinute: rpm, BurstSize: burst},
	}}
}

func runSubmit(lim ratelimit.Limiter, cfg *config.Config, token string) (*gin.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodPost, "/api/jobs", nil)
	ctx.Request.RemoteAddr = "203.0.113.7:5555"
	if token != "" {
		ctx.Request.Header.Set("Authorization", "Bearer "+token)
	}
	RateLimitSubmit(lim, cfg)(ctx)
	return ctx, rec
}

func TestRateLimitSubmit_DisabledBucket(t *testing.T) {
	lim := &mockLimiter{decision: ratelimit.Decision{Allowed: false}}
	ctx, _ := runSubmit(lim, submitConfig(0, 0), "test-token")
	if ctx.IsAborted() || lim.calls != 0 {
		t.Fatal("expected request to pass through for disabled bucket")
	}
}

func TestRateLimitSubmit_AllowedDecision(t *testing.T) {
	lim := &mockLimiter{decision: ratelimit.Decision{Allowed: true}}
	ctx, _ := runSubmit(lim, submitConfig(100, 10), "test-token")
	if ctx.IsAborted() {
		t.Fatal("expected request to pass through when rate limit allows")
	}
	if lim.subject != "test-token" {
		t.Fatalf("bucket keyed by %q", lim.subject)
	}
}

func TestRateLimitSubmit_RemainingHeaders(t *testing.T) {
	lim := &mockLimiter{decision: ratelimit.Decision{Allowed: true, Remaining: 7}}
	_, rec := runSubmit(lim, submitConfig(100, 10), "test-token")
	if rec.Header().Get("X-RateLimit-Limit") != "10" || rec.Header().Get("X-RateLimit-Remaining") != "7" {
		t.Fatalf("unexpected headers: %v", rec.Header())
	}

	lim.decision = ratelimit.Decision{Allowed: false, RetryAfter: time.Second}
	_, rec = runSubmit(lim, submitConfig(100, 10), "test-token")
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("denied request must report zero remaining: %v", rec.Header())
	}
}

func TestRateLimitSubmit_KeysByIPWithoutToken(t *testing.T) {
	lim := &mockLimiter{decision: ratelimit.Decision{Allowed: true}}
	runSubmit(lim, submitConfig(100, 10), "")
	if lim.subject != "ip:203.0.113.7" {
		t.Fatalf("bucket keyed by %q", lim.subject)
	}
}

func TestRateLimitSubmit_DeniedDecision(t *testing.T) {
	lim := &mockLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 30 * time.Second}}
	ctx, rec := runSubmit(lim, submitConfig(10, 1), "test-token")
	if !ctx.IsAborted() {
		t.Fatal("expected request to be aborted")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("Retry-After = %q", got)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["scope"] != "submit" || body["retry_after_seconds"] != float64(30) {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestRateLimitSubmit_FailsOpen(t *testing.T) {
	lim := &mockLimiter{err: errors.New("redis down")}
	ctx, _ := runSubmit(lim, submitConfig(10, 1), "test-token")
	if ctx.IsAborted() {
		t.Fatal("limiter errors must not reject requests")
	}
}

func TestRateLimitSubmit_WithMemoryLimiter(t *testing.T) {
	lim := ratelimit.NewMemoryLimiter()
	cfg := submitConfig(1, 1)
	if ctx, _ := runSubmit(lim, cfg, "tok"); ctx.IsAborted() {
		t.Fatal("first request should pass")
	}
	if ctx, rec := runSubmit(lim, cfg, "tok"); !ctx.IsAborted() || rec.Code != http.StatusTooManyRequests {
		t.Fatal("second request should be limited")
	}
}
