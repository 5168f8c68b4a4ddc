package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupLimiter(t *testing.T, rate, burst int) *Limiter {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	l := New(s.Addr(), rate, burst)
	t.Cleanup(func() {
		l.Close()
		s.Close()
	})
	return l
}

func TestAllowBurstThenDeny(t *testing.T) {
	l := setupLimiter(t, 1, 3)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "email")
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !ok {
			t.Fatalf("Expected request %d within burst to be allowed", i)
		}
	}

	ok, err := l.Allow(ctx, "email")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if ok {
		t.Error("Expected request beyond burst to be denied")
	}

	// Other types have their own bucket
	if ok, _ := l.Allow(ctx, "slow"); !ok {
		t.Error("Expected separate bucket per type")
	}

	// Two seconds later two tokens are back
	now = now.Add(2 * time.Second)
	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "email"); !ok {
			t.Errorf("Expected refilled request %d to be allowed", i)
		}
	}
}

func TestDisabledLimiterAllowsAll(t *testing.T) {
	l := &Limiter{}
	ok, err := l.Allow(context.Background(), "anything")
	if err != nil || !ok {
		t.Errorf("Expected disabled limiter to allow, got %v, %v", ok, err)
	}
}
