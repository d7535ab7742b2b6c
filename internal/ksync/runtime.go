// ============================================================================
// Synchronization primitives
// Responsibilities:
// 1. Spinlock: atomic test-and-set mutual exclusion, yield on contention
// 2. Mutex: reentrant lock with owner identity, cooperative spin-wait
// 3. Semaphore: bounded counting primitive, yield-retry wait
// 4. Cond: waiter-count signaling used with a caller-supplied mutex
//
// All blocking here is cooperative: a contended caller gives the CPU back
// through Runtime.Yield and re-polls its wait condition after regaining
// control. There is no wakeup list below the thread layer.
// ============================================================================

// Package ksync implements the kernel's synchronization primitives.
package ksync

import "runtime"

// Runtime is the execution environment the primitives run inside: a way to
// voluntarily give up the CPU, and the identity of the current execution
// unit (used for mutex ownership). The kernel wires the task scheduler in
// here; userland callers can fall back on GoRuntime.
type Runtime interface {
	// Yield gives up the CPU to another schedulable unit.
	Yield()

	// CurrentID identifies the calling execution unit. Two concurrently
	// runnable units must never share an ID.
	CurrentID() int64
}

// GoRuntime yields the calling goroutine. It reports a single flat identity,
// which is enough for spinlocks and semaphores; mutex ownership needs a real
// identity provider such as the scheduler-backed runtime.
type GoRuntime struct{}

func (GoRuntime) Yield()           { runtime.Gosched() }
func (GoRuntime) CurrentID() int64 { return 0 }
