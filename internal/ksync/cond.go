package ksync

// Cond is a condition variable with a counting semantic: a spinlock guards a
// bare waiter counter, not a per-waiter wakeup list. Wait registers itself,
// drops the associated mutex, and yield-retries until the counter falls
// below one; Signal decrements by one and Broadcast zeroes the counter.
//
// With more than one concurrent waiter, a single Signal lets every
// currently-looping waiter observe "waiters < 1" and proceed, so Signal can
// wake more than one. That is inherent to the counter design; callers that
// need exactly-one wakeup must re-check their predicate after Wait returns
// (which the classic monitor pattern requires anyway).
type Cond struct {
	lock    *Spinlock
	rt      Runtime
	waiters int32
}

// NewCond returns a condition variable bound to rt.
func NewCond(rt Runtime) *Cond {
	return &Cond{
		lock: NewSpinlock(rt),
		rt:   rt,
	}
}

// Wait atomically registers as a waiter and releases mu, blocks until
// signaled, then reacquires mu before returning. The caller must hold mu;
// this is not enforced beyond requiring the parameter.
func (c *Cond) Wait(mu *Mutex) {
	c.lock.Acquire()
	c.waiters++
	c.lock.Release()

	mu.Unlock()

	for {
		c.lock.Acquire()
		released := c.waiters < 1
		c.lock.Release()
		if released {
			break
		}
		c.rt.Yield()
	}

	mu.Lock()
}

// Signal releases one logical waiter by decrementing the counter.
func (c *Cond) Signal() {
	c.lock.Acquire()
	if c.waiters > 0 {
		c.waiters--
	}
	c.lock.Release()
}

// Broadcast releases every logical waiter at once.
func (c *Cond) Broadcast() {
	c.lock.Acquire()
	c.waiters = 0
	c.lock.Release()
}

// Waiters reports the current waiter count. Advisory.
func (c *Cond) Waiters() int {
	c.lock.Acquire()
	defer c.lock.Release()
	return int(c.waiters)
}
