package ksync

import "sync/atomic"

// Spinlock is the lowest-level mutual exclusion primitive: a single word,
// 0 free / 1 held, no ownership tracking and no recursion. Acquiring a lock
// already held by the same flow of control deadlocks; callers that need
// recursion go through Mutex.
//
// On contention Acquire yields instead of busy-spinning, so that the other
// work on a single logical core can make progress and eventually release.
type Spinlock struct {
	word uint32
	rt   Runtime
}

// NewSpinlock returns a free spinlock bound to rt.
func NewSpinlock(rt Runtime) *Spinlock {
	return &Spinlock{rt: rt}
}

// Acquire takes the lock, yielding between failed test-and-set attempts.
func (l *Spinlock) Acquire() {
	for !atomic.CompareAndSwapUint32(&l.word, 0, 1) {
		l.rt.Yield()
	}
}

// TryAcquire makes a single attempt and reports whether it took the lock.
func (l *Spinlock) TryAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.word, 0, 1)
}

// Release frees the lock. Releasing a lock that is not held is a logic
// error; the store is unconditional either way.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.word, 0)
}

// IsHeld reports the lock word at some recent instant. Advisory only: the
// answer can be stale by the time the caller looks at it.
func (l *Spinlock) IsHeld() bool {
	return atomic.LoadUint32(&l.word) == 1
}
