package document

import "sync"

// lockTable hands out one RWMutex per document name. Entries are never
// removed; only validated names reach it and the server serves a fixed set.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.RWMutex)}
}

func (t *lockTable) get(name string) *sync.RWMutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[name]
	if !ok {
		l = &sync.RWMutex{}
		t.locks[name] = l
	}
	return l
}
