package services

import "sync"

// planLocker serializes writers per plan. The HTTP layer can race two
// payments or a payment against a modification apply; combined with the
// repository's version check this keeps aggregate writes single-file.
type planLocker struct {
	mu    sync.Mutex
	locks map[uint]*planLock
}

type planLock struct {
	mu   sync.Mutex
	refs int
}

func newPlanLocker() *planLocker {
	return &planLocker{locks: make(map[uint]*planLock)}
}

// Acquire blocks until the caller holds the lock for planID and returns the
// release func. Entries are dropped once nobody waits on them.
func (l *planLocker) Acquire(planID uint) func() {
	l.mu.Lock()
	entry, ok := l.locks[planID]
	if !ok {
		entry = &planLock{}
		l.locks[planID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, planID)
		}
		l.mu.Unlock()
	}
}
