// Package keylock provides per-key mutual exclusion, such as one in-flight
// request per actor. Keys that nobody holds or waits on take no memory.
package keylock

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrLocked is returned by TryLock when the key is held.
var ErrLocked = errors.New("keylock: key is locked")

type slot struct {
	sem  *semaphore.Weighted
	refs int
}

// Locker is safe for concurrent use. The zero value is ready to use.
type Locker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// New creates a Locker.
func New() *Locker {
	return &Locker{slots: make(map[string]*slot)}
}

func (l *Locker) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.slots == nil {
		l.slots = make(map[string]*slot)
	}
	s, ok := l.slots[key]
	if !ok {
		s = &slot{sem: semaphore.NewWeighted(1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Locker) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// Lock blocks until key is acquired or ctx is done. The returned unlock
// function is idempotent.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	s := l.ref(key)
	if err := s.sem.Acquire(ctx, 1); err != nil {
		l.unref(key, s)
		return nil, err
	}
	return l.releaser(key, s), nil
}

// TryLock acquires key only if it is free.
func (l *Locker) TryLock(key string) (func(), error) {
	s := l.ref(key)
	if !s.sem.TryAcquire(1) {
		l.unref(key, s)
		return nil, ErrLocked
	}
	return l.releaser(key, s), nil
}

func (l *Locker) releaser(key string, s *slot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.sem.Release(1)
			l.unref(key, s)
		})
	}
}

// Do runs fn while holding key.
func (l *Locker) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	unlock, err := l.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

// Len returns the number of keys currently held or waited on.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
