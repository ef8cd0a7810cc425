package middleware

import (
	"fmt"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	now := time.Now()

	t.Run("requests within the limit pass", func(t *testing.T) {
		r := NewRateLimiter(3, time.Minute)
		for i := 0; i < 3; i++ {
			if !r.Allow("1.2.3.4", now) {
				t.Fatalf("request %d unexpectedly blocked", i+1)
			}
		}
	})

	t.Run("request over the limit is blocked", func(t *testing.T) {
		r := NewRateLimiter(3, time.Minute)
		for i := 0; i < 3; i++ {
			r.Allow("1.2.3.4", now)
		}
		if r.Allow("1.2.3.4", now) {
			t.Error("fourth request should be blocked")
		}
	})

	t.Run("window expiry resets the counter", func(t *testing.T) {
		r := NewRateLimiter(2, time.Minute)
		r.Allow("1.2.3.4", now)
		r.Allow("1.2.3.4", now)
		if r.Allow("1.2.3.4", now) {
			t.Fatal("third request should be blocked")
		}
		later := now.Add(time.Minute + time.Second)
		if !r.Allow("1.2.3.4", later) {
			t.Error("request after window expiry should pass")
		}
	})

	t.Run("sources are counted independently", func(t *testing.T) {
		r := NewRateLimiter(1, time.Minute)
		if !r.Allow("1.2.3.4", now) {
			t.Fatal("first source blocked")
		}
		if !r.Allow("5.6.7.8", now) {
			t.Error("second source must not share the first source's count")
		}
	})

	t.Run("stale entries are pruned", func(t *testing.T) {
		r := NewRateLimiter(100, time.Minute)
		for i := 0; i < 50; i++ {
			r.Allow(fmt.Sprintf("10.0.0.%d", i), now)
		}
		later := now.Add(2 * time.Minute)
		r.Allow("fresh", later)

		r.mu.Lock()
		size := len(r.entries)
		r.mu.Unlock()
		if size != 1 {
			t.Errorf("entries = %d after prune; want 1", size)
		}
	})
}
