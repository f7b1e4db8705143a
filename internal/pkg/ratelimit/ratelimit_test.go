package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(windowDur time.Duration, max int) (*Limiter, *time.Time) {
	l := New(windowDur, max)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return current }
	return l, &current
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 5)

	for i := 0; i < 5; i++ {
		ok, _ := l.Allow("verify:10.0.0.1")
		if !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
}

func TestSixthRequestRejectedWithOriginalReset(t *testing.T) {
	l, current := newTestLimiter(60*time.Second, 5)
	start := *current

	for i := 0; i < 5; i++ {
		*current = start.Add(time.Duration(i) * time.Second)
		if ok, _ := l.Allow("k"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	*current = start.Add(10 * time.Second)
	ok, resetAt := l.Allow("k")
	if ok {
		t.Fatal("sixth request within the window should be rejected")
	}
	want := start.Add(60 * time.Second)
	if !resetAt.Equal(want) {
		t.Fatalf("reset time = %v, want original window expiry %v", resetAt, want)
	}
}

func TestExpiredWindowReopens(t *testing.T) {
	l, current := newTestLimiter(time.Minute, 2)
	start := *current

	l.Allow("k")
	l.Allow("k")
	if ok, _ := l.Allow("k"); ok {
		t.Fatal("third request should be rejected")
	}

	*current = start.Add(61 * time.Second)
	ok, resetAt := l.Allow("k")
	if !ok {
		t.Fatal("request after window expiry should open a fresh window")
	}
	want := current.Add(time.Minute)
	if !resetAt.Equal(want) {
		t.Fatalf("fresh window reset = %v, want %v", resetAt, want)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 1)

	if ok, _ := l.Allow("admin:1.2.3.4"); !ok {
		t.Fatal("first key should be allowed")
	}
	if ok, _ := l.Allow("admin:5.6.7.8"); !ok {
		t.Fatal("second key should have its own window")
	}
	if ok, _ := l.Allow("admin:1.2.3.4"); ok {
		t.Fatal("first key should now be exhausted")
	}
}

func TestPurgeDropsExpiredEntries(t *testing.T) {
	l, current := newTestLimiter(time.Minute, 5)
	start := *current

	l.Allow("a")
	l.Allow("b")
	if len(l.entries) != 2 {
		t.Fatalf("expected 2 tracked keys, got %d", len(l.entries))
	}

	// Purge is throttled to once per window; jump past it.
	*current = start.Add(2 * time.Minute)
	l.Allow("c")
	if len(l.entries) != 1 {
		t.Fatalf("expected expired keys to be purged, got %d entries", len(l.entries))
	}
	if _, ok := l.entries["c"]; !ok {
		t.Fatal("active key should survive the purge")
	}
}

func TestRemaining(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 3)

	if got := l.Remaining("k"); got != 3 {
		t.Fatalf("fresh key remaining = %d, want 3", got)
	}
	l.Allow("k")
	l.Allow("k")
	if got := l.Remaining("k"); got != 1 {
		t.Fatalf("remaining = %d, want 1", got)
	}
}
