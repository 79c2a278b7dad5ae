package deploy

import "sync"

// LockManager serializes mutating deployment operations. The production
// directory and the history file are single unsynchronized resources, so
// promote, rollback and full-pipeline runs within one process must hold
// the lock for their whole duration. Cross-process callers need an
// external lock; none is provided here.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockManager creates a new lock manager.
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// TryLock attempts to acquire the named lock without blocking.
// Returns false if another operation already holds it.
func (lm *LockManager) TryLock(name string) bool {
	lm.mu.Lock()
	lock, exists := lm.locks[name]
	if !exists {
		lock = &sync.Mutex{}
		lm.locks[name] = lock
	}
	lm.mu.Unlock()

	return lock.TryLock()
}

// Unlock releases the named lock. Safe to call for a name that was
// never locked (no-op).
func (lm *LockManager) Unlock(name string) {
	lm.mu.Lock()
	lock := lm.locks[name]
	lm.mu.Unlock()

	if lock != nil {
		lock.Unlock()
	}
}
