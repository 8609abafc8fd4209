package redisclient

import (
	"context"
	"sync"
)

// localLocker is a single-process Locker used when Redis is not wired
// (tests, local runs). A held key fails fast with ErrLockNotAcquired like the
// Redis implementation.
type localLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() Locker {
	return &localLocker{held: map[string]struct{}{}}
}

func (l *localLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if _, busy := l.held[key]; busy {
		l.mu.Unlock()
		return ErrLockNotAcquired
	}
	l.held[key] = struct{}{}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()

	return fn(ctx)
}
