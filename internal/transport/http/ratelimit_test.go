package http

import (
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newRateLimiter(2, time.Minute)
	r.now = func() time.Time { return now }

	if !r.allow() || !r.allow() {
		t.Fatal("first two calls should pass")
	}
	if r.allow() {
		t.Fatal("third call in the window should be limited")
	}

	now = now.Add(time.Minute)
	if !r.allow() {
		t.Fatal("new window should reset the counter")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	var nilLimiter *rateLimiter
	if !nilLimiter.allow() {
		t.Fatal("nil limiter must allow")
	}
	r := newRateLimiter(0, time.Minute)
	for range 10 {
		if !r.allow() {
			t.Fatal("zero limit must allow")
		}
	}
}
