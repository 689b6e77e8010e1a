package helpers

import "sync"

// KeyLock serializes mutations per entity key (an economy account, a raid
// window, an ephemeral channel record). Locks are created on demand and
// kept for the process lifetime; the key space is bounded by guild and
// member counts.
type KeyLock struct {
	mutex sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyLock() *KeyLock {
	return &KeyLock{
		locks: make(map[string]*sync.Mutex),
	}
}

func (k *KeyLock) Lock(key string) {
	k.mutex.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = new(sync.Mutex)
		k.locks[key] = lock
	}
	k.mutex.Unlock()

	lock.Lock()
}

func (k *KeyLock) Unlock(key string) {
	k.mutex.Lock()
	lock := k.locks[key]
	k.mutex.Unlock()

	if lock != nil {
		lock.Unlock()
	}
}
