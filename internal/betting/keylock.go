package betting

import "sync"

// keyLock serializes operations per market so stake placement and
// settlement on the same market never interleave, while unrelated
// markets proceed in parallel. Single-instance scope; the store's own
// row locking covers multi-instance deployments.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*sync.Mutex)}
}

func (k *keyLock) lock(key string) *sync.Mutex {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m
}
