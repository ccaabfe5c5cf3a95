package loyalty

import "sync"

// =============================================================================
// LOCK TABLE - Per-ID serialization
// =============================================================================

// lockTable serializes operations per key (account ID, voucher ID).
// Operations on different keys proceed fully in parallel; there is no
// global lock. Locks are never reclaimed -- the table grows with the
// number of distinct hot IDs, which is bounded by the account/voucher
// population.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for key and returns its release function.
func (t *lockTable) acquire(key string) func() {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}
