package ratelimit

import (
	"testing"
	"time"
)

func TestAllow_BurstThenDeny(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	// A fresh caller gets the full burst, then hits the wall.
	for i := 0; i < 5; i++ {
		if !limiter.Allow("203.0.113.9") {
			t.Errorf("Request %d denied inside the burst allowance", i)
		}
	}
	if limiter.Allow("203.0.113.9") {
		t.Error("Request beyond the burst was allowed")
	}

	// One second at 60/min refills one token.
	time.Sleep(1100 * time.Millisecond)
	if !limiter.Allow("203.0.113.9") {
		t.Error("Refilled token was not granted")
	}
}

func TestAllow_CallersAreIndependent(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	// One tenant burning through its budget must not touch another's.
	for i := 0; i < 3; i++ {
		limiter.Allow("auth:pk_live_merchant_a")
	}
	if limiter.Allow("auth:pk_live_merchant_a") {
		t.Error("Exhausted caller was still allowed")
	}
	if !limiter.Allow("auth:pk_live_merchant_b") {
		t.Error("Fresh caller was throttled by another tenant's usage")
	}
}

func TestAllow_RefillRate(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 600,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	if !limiter.Allow("198.51.100.4") {
		t.Error("First request denied")
	}
	if limiter.Allow("198.51.100.4") {
		t.Error("Second immediate request allowed with burst of 1")
	}

	// 600/min is 10 tokens a second, so ~100ms buys one back.
	time.Sleep(120 * time.Millisecond)
	if !limiter.Allow("198.51.100.4") {
		t.Error("Token not refilled at the configured rate")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RequestsPerMinute != 60 || cfg.BurstSize != 10 {
		t.Errorf("DefaultConfig = %+v", cfg)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("CleanupInterval = %v", cfg.CleanupInterval)
	}
}
