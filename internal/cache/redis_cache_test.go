package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisCache_StoreSent_Success(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	cache := NewRedisCache(rdb, 10*time.Second)

	ctx := context.Background()
	sentAt := time.Date(2026, 2, 2, 18, 0, 0, 0, time.UTC)

	if err := cache.StoreSent(ctx, 42, "wamid.123", sentAt); err != nil {
		t.Fatalf("StoreSent() error: %v", err)
	}

	for _, key := range []string{"msg:42", "receipt:wamid.123"} {
		if !mr.Exists(key) {
			t.Fatalf("expected key %q to exist", key)
		}
		if ttl := mr.TTL(key); ttl <= 0 {
			t.Fatalf("expected TTL on %q, got %v", key, ttl)
		}
	}

	raw, err := mr.Get("msg:42")
	if err != nil {
		t.Fatalf("failed to get key msg:42: %v", err)
	}

	var got sentValue
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}
	if got.ProviderMessageID != "wamid.123" {
		t.Fatalf("expected ProviderMessageID %q, got %q", "wamid.123", got.ProviderMessageID)
	}
	if !got.SentAt.Equal(sentAt) {
		t.Fatalf("expected SentAt %v, got %v", sentAt, got.SentAt)
	}
}

func TestRedisCache_LookupMessage(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)
	cache := NewRedisCache(rdb, time.Minute)
	ctx := context.Background()

	if _, ok, err := cache.LookupMessage(ctx, "unknown"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := cache.StoreSent(ctx, 7, "SM7", time.Now()); err != nil {
		t.Fatalf("StoreSent() error: %v", err)
	}

	id, ok, err := cache.LookupMessage(ctx, "SM7")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if id != 7 {
		t.Fatalf("expected message id 7, got %d", id)
	}
}

func TestRedisCache_StoreSent_OverwritesExistingValue(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	cache := NewRedisCache(rdb, time.Minute)
	ctx := context.Background()

	if err := cache.StoreSent(ctx, 1, "first", time.Now()); err != nil {
		t.Fatalf("first StoreSent() error: %v", err)
	}
	if err := cache.StoreSent(ctx, 1, "second", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("second StoreSent() error: %v", err)
	}

	raw, err := mr.Get("msg:1")
	if err != nil {
		t.Fatalf("failed to get key msg:1: %v", err)
	}

	var got sentValue
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}
	if got.ProviderMessageID != "second" {
		t.Fatalf("expected overwritten ProviderMessageID %q, got %q", "second", got.ProviderMessageID)
	}
}

func TestRedisCache_StoreSent_ContextCanceled(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)
	cache := NewRedisCache(rdb, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cache.StoreSent(ctx, 1, "x", time.Now()); err == nil {
		t.Fatalf("expected error due to canceled context, got nil")
	}
}

func TestRedisLocker_ExclusiveUntilReleased(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)
	locker := NewRedisLocker(rdb)
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "dispatch", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first lock, got ok=%v err=%v", ok, err)
	}

	if _, ok, err := locker.TryLock(ctx, "dispatch", time.Minute); err != nil || ok {
		t.Fatalf("expected second lock to be refused, got ok=%v err=%v", ok, err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release error: %v", err)
	}

	if _, ok, err := locker.TryLock(ctx, "dispatch", time.Minute); err != nil || !ok {
		t.Fatalf("expected lock after release, got ok=%v err=%v", ok, err)
	}
}

func TestRedisLocker_ReleaseAfterExpiry(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	locker := NewRedisLocker(rdb)
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "dispatch", time.Second)
	if err != nil || !ok {
		t.Fatalf("expected lock, got ok=%v err=%v", ok, err)
	}

	mr.FastForward(2 * time.Second)

	if _, ok, _ := locker.TryLock(ctx, "dispatch", time.Minute); !ok {
		t.Fatalf("expected lock to be free after expiry")
	}

	if err := release(ctx); err != ErrLockLost {
		t.Fatalf("expected ErrLockLost, got %v", err)
	}
}
