package backoff

import (
	"math/rand"
	"testing"
	"time"
)

func TestComputeDeterministic(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		base     time.Duration
		max      time.Duration
		attempts int
		want     time.Duration
	}{
		{"fixed", Fixed, 5 * time.Second, 10 * time.Second, 100, 5 * time.Second},
		{"fixed base exceeds max", Fixed, 20 * time.Second, 10 * time.Second, 0, 10 * time.Second},
		{"fixed zero base defaults to 1s", Fixed, 0, 10 * time.Second, 0, time.Second},
		{"fixed zero max equals base", Fixed, 5 * time.Second, 0, 0, 5 * time.Second},
		{"linear zero attempts", Linear, 5 * time.Second, 100 * time.Second, 0, 5 * time.Second},
		{"linear three attempts", Linear, 5 * time.Second, 100 * time.Second, 3, 15 * time.Second},
		{"linear capped", Linear, 5 * time.Second, 20 * time.Second, 10, 20 * time.Second},
		{"linear negative attempts", Linear, 5 * time.Second, 100 * time.Second, -1, 5 * time.Second},
		{"exponential", Exponential, time.Second, time.Minute, 3, 8 * time.Second},
		{"exponential capped", Exponential, time.Second, time.Minute, 20, time.Minute},
		{"exponential huge attempts", Exponential, time.Second, time.Minute, 5000, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.policy, tt.base, tt.max, tt.attempts, rand.New(rand.NewSource(42)))
			if got != tt.want {
				t.Errorf("Compute(%s) = %v, want %v", tt.policy, got, tt.want)
			}
		})
	}
}

func TestComputeJitterBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for attempts := 0; attempts < 10; attempts++ {
		ceiling := Compute(Exponential, 100*time.Millisecond, 5*time.Second, attempts, nil)
		for i := 0; i < 50; i++ {
			full := Compute(ExpFullJitter, 100*time.Millisecond, 5*time.Second, attempts, rng)
			if full < 0 || full > ceiling {
				t.Fatalf("full jitter %v outside [0, %v]", full, ceiling)
			}
			equal := Compute(ExpEqualJitter, 100*time.Millisecond, 5*time.Second, attempts, rng)
			if equal < ceiling/2 || equal > ceiling {
				t.Fatalf("equal jitter %v outside [%v, %v]", equal, ceiling/2, ceiling)
			}
		}
	}
}

func TestComputeUnknownPolicyIsFullJitter(t *testing.T) {
	a := Compute("bogus", time.Second, time.Minute, 3, rand.New(rand.NewSource(1)))
	b := Compute(ExpFullJitter, time.Second, time.Minute, 3, rand.New(rand.NewSource(1)))
	if a != b {
		t.Fatalf("unknown policy %v != full jitter %v", a, b)
	}
}
