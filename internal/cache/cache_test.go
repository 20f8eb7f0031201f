package cache

import (
	"context"
	"testing"
	"time"
)

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock, got ok=%v err=%v", ok, err)
	}
	if _, ok, _ := l.TryLock(ctx, "k", time.Minute); ok {
		t.Fatalf("expected held lock to be refused")
	}
	if _, ok, _ := l.TryLock(ctx, "other", time.Minute); !ok {
		t.Fatalf("expected independent key to lock")
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release error: %v", err)
	}
	if err := release(ctx); err != ErrLockLost {
		t.Fatalf("expected ErrLockLost on double release, got %v", err)
	}

	_, _, _ = l.TryLock(ctx, "k", time.Minute)
	now = now.Add(2 * time.Minute)
	if _, ok, _ := l.TryLock(ctx, "k", time.Minute); !ok {
		t.Fatalf("expected expired lock to be taken over")
	}
}

func TestNopCache(t *testing.T) {
	var c ReceiptCache = NopCache{}
	if err := c.StoreSent(context.Background(), 1, "x", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, err := c.LookupMessage(context.Background(), "x"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}
