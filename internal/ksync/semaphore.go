package ksync

// Semaphore is a bounded counting primitive: a spinlock guarding
// (count, max). Wait blocks cooperatively while the count is zero; Signal
// silently caps at max instead of treating overflow as an error. The thread
// layer builds join synchronization on a (0, 1) semaphore.
type Semaphore struct {
	lock  *Spinlock
	rt    Runtime
	count uint32
	max   uint32
}

// NewSemaphore returns a semaphore with the given initial and maximum
// counts. initial is capped at max.
func NewSemaphore(rt Runtime, initial, max uint32) *Semaphore {
	if initial > max {
		initial = max
	}
	return &Semaphore{
		lock:  NewSpinlock(rt),
		rt:    rt,
		count: initial,
		max:   max,
	}
}

// Wait decrements the count, yield-retrying for as long as it is zero.
// There is no timeout; callers needing one must layer it above.
func (s *Semaphore) Wait() {
	for {
		s.lock.Acquire()
		if s.count > 0 {
			s.count--
			s.lock.Release()
			return
		}
		s.lock.Release()
		s.rt.Yield()
	}
}

// TryWait makes a single non-blocking attempt to decrement.
func (s *Semaphore) TryWait() bool {
	if !s.lock.TryAcquire() {
		return false
	}
	defer s.lock.Release()

	if s.count == 0 {
		return false
	}
	s.count--
	return true
}

// Signal increments the count unless it is already at max.
func (s *Semaphore) Signal() {
	s.lock.Acquire()
	if s.count < s.max {
		s.count++
	}
	s.lock.Release()
}

// Count reports the current count. Advisory.
func (s *Semaphore) Count() uint32 {
	s.lock.Acquire()
	defer s.lock.Release()
	return s.count
}
