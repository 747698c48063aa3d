package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/RPLaine/newsroom-processor/internal/apperr"
)

// KeyedLocker hands out one exclusive lock per key. Entries are dropped once
// nobody holds or waits on them.
type KeyedLocker struct {
	wait time.Duration

	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  *semaphore.Weighted
	refs int
}

func NewKeyedLocker(wait time.Duration) *KeyedLocker {
	return &KeyedLocker{wait: wait, locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free, ctx is done, or the configured wait elapses.
func (l *KeyedLocker) Lock(ctx context.Context, key string) (unlock func(), err error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyedLock{sem: semaphore.NewWeighted(1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	acquireCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	if err := kl.sem.Acquire(acquireCtx, 1); err != nil {
		l.release(key, kl)
		return nil, apperr.Storage("Resource is busy, try again later", fmt.Errorf("lock %s: %w", key, err))
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			kl.sem.Release(1)
			l.release(key, kl)
		})
	}, nil
}

func (l *KeyedLocker) release(key string, kl *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// size is used by tests.
func (l *KeyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
