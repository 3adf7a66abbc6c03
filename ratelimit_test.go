package callbackd

import (
	"testing"
	"time"
)

func TestKeyLimiter_BurstThenThrottle(t *testing.T) {
	l := NewKeyLimiter(1, 3, time.Minute)
	now := time.Date(2025, 11, 18, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !l.Allow("192.0.2.1", now) {
			t.Fatalf("request %d within burst denied", i+1)
		}
	}
	if l.Allow("192.0.2.1", now) {
		t.Error("request beyond burst allowed")
	}

	// Tokens refill with time.
	if !l.Allow("192.0.2.1", now.Add(2*time.Second)) {
		t.Error("request after refill denied")
	}
}

func TestKeyLimiter_KeysAreIndependent(t *testing.T) {
	l := NewKeyLimiter(1, 1, time.Minute)
	now := time.Date(2025, 11, 18, 12, 0, 0, 0, time.UTC)

	if !l.Allow("192.0.2.1", now) {
		t.Fatal("first key denied")
	}
	if l.Allow("192.0.2.1", now) {
		t.Fatal("first key not throttled")
	}
	if !l.Allow("192.0.2.2", now) {
		t.Error("second key throttled by the first key's usage")
	}
}

func TestKeyLimiter_NilAndEmpty(t *testing.T) {
	var nilLimiter *KeyLimiter
	if !nilLimiter.Allow("anything", time.Now()) {
		t.Error("nil limiter denied")
	}
	if NewKeyLimiter(0, 5, time.Minute) != nil {
		t.Error("zero rate did not disable the limiter")
	}
	if NewKeyLimiter(1, 0, time.Minute) != nil {
		t.Error("zero burst did not disable the limiter")
	}

	l := NewKeyLimiter(1, 1, time.Minute)
	if !l.Allow("", time.Now()) || !l.Allow("   ", time.Now()) {
		t.Error("empty key denied")
	}
}

func TestKeyLimiter_EvictsIdleKeys(t *testing.T) {
	l := NewKeyLimiter(1, 1, time.Minute)
	now := time.Date(2025, 11, 18, 12, 0, 0, 0, time.UTC)

	l.Allow("stale-key", now)

	// Eviction runs every 512th hit; drive it past that with fresh keys
	// long after the stale key's TTL.
	later := now.Add(time.Hour)
	for i := 0; i < 600; i++ {
		l.Allow("fresh-key", later)
	}

	l.mu.Lock()
	_, ok := l.byKey["stale-key"]
	l.mu.Unlock()
	if ok {
		t.Error("idle key not evicted")
	}
}
