package http

import (
	"testing"
	"time"

	"finclient/internal/log"
)

func TestRateLimiterDisabled(t *testing.T) {
	rl := newRateLimiter(0, 10, log.Discard())
	if rl != nil {
		t.Fatalf("non-positive rate should disable the limiter")
	}
	for i := 0; i < 100; i++ {
		if !rl.allow("10.0.0.1") {
			t.Fatalf("disabled limiter rejected request %d", i)
		}
	}
	rl.stop()
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := newRateLimiter(1, 2, log.Discard())
	defer rl.stop()
	now := time.Now()

	if !rl.allowAt("a", now) || !rl.allowAt("a", now) {
		t.Fatalf("burst should be allowed")
	}
	if rl.allowAt("a", now) {
		t.Fatalf("third request within the same instant should be limited")
	}
	if !rl.allowAt("b", now) {
		t.Fatalf("other clients have their own bucket")
	}
	if !rl.allowAt("a", now.Add(time.Second)) {
		t.Fatalf("token should refill after one second")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := newRateLimiter(1, 1, log.Discard())
	defer rl.stop()
	now := time.Now()

	rl.allowAt("old", now.Add(-limiterIdleTTL-time.Minute))
	rl.allowAt("fresh", now)

	if n := rl.cleanupStaleEntries(now); n != 1 {
		t.Fatalf("removed %d entries, want 1", n)
	}
	if _, ok := rl.clients["fresh"]; !ok {
		t.Fatalf("fresh client removed")
	}

	rl.stop()
	rl.stop()
}
