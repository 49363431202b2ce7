package api

import (
	"testing"
	"time"

	"chatspace/pkg/config"
)

func TestLimiterPoolEvictsIdle(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	pool := &limiterPool{
		cfg: config.RateLimit{RPS: 1, Burst: 1},
		now: func() time.Time { return clock },
	}

	pool.get("10.0.0.1")
	pool.get("10.0.0.2")
	if len(pool.m) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(pool.m))
	}

	// keep one client active inside the idle window, let the other lapse
	clock = clock.Add(8 * time.Minute)
	pool.get("10.0.0.1")
	clock = clock.Add(4 * time.Minute)
	pool.get("10.0.0.3")

	if _, ok := pool.m["10.0.0.2"]; ok {
		t.Fatalf("idle entry survived the sweep")
	}
	if _, ok := pool.m["10.0.0.1"]; !ok {
		t.Fatalf("active entry was swept")
	}
	if len(pool.m) != 2 {
		t.Fatalf("expected active and fresh entries only, got %d", len(pool.m))
	}
}

func TestLimiterPoolKeepsActiveState(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	pool := &limiterPool{
		cfg: config.RateLimit{RPS: 0.001, Burst: 1},
		now: func() time.Time { return clock },
	}

	if !pool.Allow("10.0.0.1") {
		t.Fatalf("first request must pass")
	}
	if pool.Allow("10.0.0.1") {
		t.Fatalf("burst of 1 must reject the second request")
	}

	// touching the entry inside the window must not reset its bucket
	clock = clock.Add(time.Second)
	if pool.Allow("10.0.0.1") {
		t.Fatalf("bucket was reset for an active client")
	}
}
