package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ReceiptCache remembers which provider message id belongs to which message
// so delivery receipts can be matched without a database scan.
type ReceiptCache interface {
	StoreSent(ctx context.Context, messageID int64, providerMessageID string, sentAt time.Time) error
	LookupMessage(ctx context.Context, providerMessageID string) (int64, bool, error)
}

// Locker hands out short-lived named locks. Release must be called with the
// value returned by a successful TryLock.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Release, bool, error)
}

type Release func(ctx context.Context) error

var ErrLockLost = errors.New("lock expired or held by another owner")

// NopCache is used when Redis is not configured.
type NopCache struct{}

func (NopCache) StoreSent(context.Context, int64, string, time.Time) error { return nil }

func (NopCache) LookupMessage(context.Context, string) (int64, bool, error) {
	return 0, false, nil
}

// LocalLocker serializes holders inside a single process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (Release, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, false, nil
	}
	exp := now.Add(ttl)
	l.held[key] = exp

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; !ok || !cur.Equal(exp) {
			return ErrLockLost
		}
		delete(l.held, key)
		return nil
	}
	return release, true, nil
}
