package chathub

import "sync"

// keyedMutex serializes work per string key. Used for usernames during join
// and unordered user pairs during friend-request acceptance; chat ids during
// message acceptance. Entries are reference counted and dropped when idle so
// the map does not grow with every key ever seen.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLockEntry
}

type keyedLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLockEntry)}
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	entry := k.locks[key]
	if entry == nil {
		entry = &keyedLockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	entry := k.locks[key]
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	entry.mu.Unlock()
}
