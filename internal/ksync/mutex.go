package ksync

import "log"

// noOwner is the owner sentinel meaning the mutex is unclaimed. It sits far
// outside the ID space the scheduler hands out, so an error sentinel leaking
// in as a caller identity can never match it and hit the recursive path.
const noOwner int64 = -1 << 62

// Mutex is a reentrant lock: a spinlock guarding an (owner, count) pair.
// The owning unit may re-lock without blocking; only the count dropping back
// to zero releases ownership. Unlocking from a non-owner is reported and
// ignored rather than corrupting state.
type Mutex struct {
	lock  *Spinlock
	rt    Runtime
	owner int64
	count uint32
}

// NewMutex returns an unowned mutex bound to rt.
func NewMutex(rt Runtime) *Mutex {
	return &Mutex{
		lock:  NewSpinlock(rt),
		rt:    rt,
		owner: noOwner,
	}
}

// Lock acquires the mutex for the calling unit, blocking cooperatively while
// another unit owns it. Recursive acquisition by the owner returns
// immediately with the count bumped.
func (m *Mutex) Lock() {
	self := m.rt.CurrentID()

	m.lock.Acquire()
	if m.owner == self {
		m.count++
		m.lock.Release()
		return
	}

	// Spin-wait: drop the spinlock across the yield so the owner can get in
	// to unlock, then recheck.
	for m.owner != noOwner {
		m.lock.Release()
		m.rt.Yield()
		m.lock.Acquire()
	}

	m.owner = self
	m.count = 1
	m.lock.Release()
}

// TryLock makes a single non-blocking attempt. It succeeds on the recursive
// fast path or when the mutex is unclaimed and the internal spinlock is
// uncontended.
func (m *Mutex) TryLock() bool {
	self := m.rt.CurrentID()

	if !m.lock.TryAcquire() {
		return false
	}
	defer m.lock.Release()

	switch {
	case m.owner == self:
		m.count++
		return true
	case m.owner == noOwner:
		m.owner = self
		m.count = 1
		return true
	default:
		return false
	}
}

// Unlock releases one level of ownership. A call from a unit that does not
// own the mutex is a no-op logged at warning level.
func (m *Mutex) Unlock() {
	self := m.rt.CurrentID()

	m.lock.Acquire()
	defer m.lock.Release()

	if m.owner != self {
		log.Printf("[WARN] ksync: unit %d unlocked mutex owned by %d", self, m.owner)
		return
	}

	m.count--
	if m.count == 0 {
		m.owner = noOwner
	}
}

// Owner reports the current owner ID and recursion count. Advisory, for
// diagnostics and tests.
func (m *Mutex) Owner() (int64, uint32) {
	m.lock.Acquire()
	defer m.lock.Release()
	return m.owner, m.count
}
