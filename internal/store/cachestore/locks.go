package cachestore

import "sync"

// keyLocks serializes cache population and invalidation per key, so a
// snapshot loaded before a write can never be stored after that write's
// invalidation.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires every key in sorted order and returns the release func.
func (l *keyLocks) lock(keys ...string) func() {
	keys = sortedUnique(keys)
	held := make([]*keyLock, 0, len(keys))
	for _, k := range keys {
		kl := l.acquire(k)
		kl.mu.Lock()
		held = append(held, kl)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.release(keys[i])
		}
	}
}

func (l *keyLocks) acquire(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*keyLock)
	}
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *keyLocks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl := l.locks[key]
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
