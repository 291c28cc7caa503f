// Package lock serialises operations on one account across goroutines and,
// with the Redis implementation, across service instances.
package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrNotAcquired is returned when the lock stayed busy for every attempt.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrEmptyKey is returned when an empty lock key is provided.
	ErrEmptyKey = errors.New("lock key cannot be empty")
)

// Locker runs fn while holding the lock named key.
// The lock is released when fn returns, whatever the outcome.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// AccountKey is the lock name guarding one account.
func AccountKey(accountNumber string) string {
	return "ledger:account:" + accountNumber
}

// LocalLocker is an in-process Locker for single-instance deployments and tests.
type LocalLocker struct {
	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{keys: make(map[string]*keyLock)}
}

// WithLock implements Locker. Waiting for the lock honours ctx cancellation.
func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}

	l.mu.Lock()
	k, ok := l.keys[key]
	if !ok {
		k = &keyLock{sem: make(chan struct{}, 1)}
		l.keys[key] = k
	}
	k.refs++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		k.refs--
		if k.refs == 0 {
			delete(l.keys, key)
		}
		l.mu.Unlock()
	}()

	select {
	case k.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-k.sem }()

	return fn(ctx)
}

// Ensure LocalLocker implements Locker.
var _ Locker = (*LocalLocker)(nil)
