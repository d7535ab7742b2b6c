// ============================================================================
// Context switch abstraction
// Responsibilities:
// 1. Model saved execution state as an opaque Context value
// 2. Hide the platform register-save sequence behind the Switcher interface
// 3. Provide a goroutine-backed switcher for live simulation runs
// 4. Provide a recording switcher for deterministic unit tests
// ============================================================================

package arch

import "sync"

// Context holds the saved execution state of one schedulable unit. The real
// register file is a platform detail; here the state is the entry trampoline
// for the first dispatch plus the parking gate used by the goroutine-backed
// switcher for every later suspend/resume.
type Context struct {
	entry   func()
	gate    chan struct{}
	started bool
}

// NewContext builds the initial saved context for a fresh unit. A switch
// into this context runs entry exactly once; entry is expected to never
// return (it ends by switching away, e.g. via thread exit).
func NewContext(entry func()) *Context {
	return &Context{
		entry: entry,
		gate:  make(chan struct{}, 1),
	}
}

// NewBootstrapContext builds a context representing an already-running flow
// of control (the caller's own). Switching into it resumes the caller; it is
// never first-dispatched.
func NewBootstrapContext() *Context {
	return &Context{
		gate:    make(chan struct{}, 1),
		started: true,
	}
}

// Switcher is the platform context-switch primitive: save the current state
// into from, restore to, and continue executing to. The call returns only
// when something later switches back into from.
type Switcher interface {
	Switch(from, to *Context)
}

// ============================================================================
// Goroutine-backed switcher
// ============================================================================

// GoroutineSwitcher realizes the switch primitive on top of goroutines: each
// context is backed by one goroutine parked on its gate, and exactly one of
// them runs at a time. First dispatch of a context spawns its goroutine and
// runs the entry trampoline.
type GoroutineSwitcher struct {
	mu sync.Mutex
}

// NewGoroutineSwitcher returns a live switcher for simulation runs.
func NewGoroutineSwitcher() *GoroutineSwitcher {
	return &GoroutineSwitcher{}
}

// Switch resumes to and parks the caller on from. Switching a context into
// itself is a no-op. A nil from marks the calling flow as exiting: the
// target is resumed and the call returns immediately, so the caller can
// unwind and let its goroutine end instead of parking forever.
func (s *GoroutineSwitcher) Switch(from, to *Context) {
	if from == to {
		return
	}

	s.mu.Lock()
	if !to.started {
		to.started = true
		go func(c *Context) {
			<-c.gate
			c.entry()
		}(to)
	}
	s.mu.Unlock()

	to.gate <- struct{}{}
	if from == nil {
		return
	}
	<-from.gate
}

// ============================================================================
// Recording switcher
// ============================================================================

// RecordingSwitcher records switch requests without transferring control.
// Unit tests drive the scheduler synchronously and inspect the order of
// dispatches through it.
type RecordingSwitcher struct {
	mu       sync.Mutex
	switches int
}

// NewRecordingSwitcher returns a switcher that only counts.
func NewRecordingSwitcher() *RecordingSwitcher {
	return &RecordingSwitcher{}
}

// Switch records the request and returns immediately to the caller.
func (s *RecordingSwitcher) Switch(from, to *Context) {
	s.mu.Lock()
	s.switches++
	s.mu.Unlock()
}

// Switches reports how many switches were requested.
func (s *RecordingSwitcher) Switches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switches
}
