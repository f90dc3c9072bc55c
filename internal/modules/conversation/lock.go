package conversation

import (
	"context"
	"sync"
)

// Locker hands out exclusive per-session leases. Every Service sharing a Store must
// share its Locker, so stores that can be shared provide one (see LockProvider).
type Locker interface {
	Acquire(ctx context.Context, id string) (release func(), err error)
}

// LockProvider is implemented by stores that know how to serialize their own sessions.
type LockProvider interface {
	Locker() Locker
}

// KeyedMutex serializes work per session id. Entries are reference counted and
// dropped once no goroutine holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until id is free and returns the matching unlock func.
func (k *KeyedMutex) Lock(id string) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &keyedLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

// Acquire implements Locker. Waiting is not interruptible; ctx is only checked first.
func (k *KeyedMutex) Acquire(ctx context.Context, id string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return k.Lock(id), nil
}

// Len returns the number of ids currently held or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
