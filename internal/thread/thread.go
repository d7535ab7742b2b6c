// ============================================================================
// Thread layer
// Responsibilities:
// 1. Own the thread table: a fixed arena of control blocks, the single
//    source of truth for thread existence
// 2. Track lifecycle: new -> ready -> running -> blocked/ready -> zombie -> dead
// 3. Implement join/detach bookkeeping on a binary join semaphore
// 4. Run the internal thread scheduler (highest numeric priority wins,
//    earliest-inserted among equals)
//
// The ready and blocked lists are doubly linked through intrusive slot
// indices inside the arena, so no raw aliasing pointers exist and a thread
// is in at most one list at a time.
// ============================================================================

// Package thread implements the nanokernel's schedulable threads.
package thread

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/ChuLiYu/nanokernel/internal/arch"
	"github.com/ChuLiYu/nanokernel/internal/ksync"
	"github.com/ChuLiYu/nanokernel/pkg/types"
)

var (
	// ErrTableFull means every thread slot is occupied.
	ErrTableFull = errors.New("thread table full")
	// ErrNotFound means no live thread has the given id.
	ErrNotFound = errors.New("thread not found")
	// ErrJoinSelf means a thread tried to join itself.
	ErrJoinSelf = errors.New("thread cannot join itself")
	// ErrDetached means the operation is invalid on a detached thread.
	ErrDetached = errors.New("thread is detached")
	// ErrNotBlocked means Unblock targeted a thread that is not blocked.
	ErrNotBlocked = errors.New("thread not blocked")
)

// Default tunables.
const (
	DefaultTableSize = 64
	DefaultStackSize = 16 * 1024
	stackAlign       = 16
)

// nilSlot terminates the intrusive lists.
const nilSlot = int32(-1)

// EntryFunc is a thread body. The entry wrapper calls Exit(0) if the body
// returns instead of exiting explicitly.
type EntryFunc func(arg any)

// Config carries the thread-layer tunables.
type Config struct {
	TableSize        int
	DefaultStackSize int
}

func (c *Config) applyDefaults() {
	if c.TableSize <= 0 {
		c.TableSize = DefaultTableSize
	}
	if c.DefaultStackSize <= 0 {
		c.DefaultStackSize = DefaultStackSize
	}
}

// Observer receives thread lifecycle events.
type Observer interface {
	ThreadCreated(id types.ThreadID, priority int)
	ThreadExited(id types.ThreadID, exitCode int32)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) ThreadCreated(types.ThreadID, int)  {}
func (NopObserver) ThreadExited(types.ThreadID, int32) {}

// tcb is one slot of the thread arena.
type tcb struct {
	inUse    bool
	id       types.ThreadID
	task     types.TaskID
	name     string
	state    types.ThreadState
	priority int
	flags    types.ThreadFlags
	entry    EntryFunc
	arg      any
	stack    []byte
	exitCode int32
	exited   bool // join semaphore has been signaled

	joinSem *ksync.Semaphore
	ctx     *arch.Context

	// Intrusive links into the ready or blocked list.
	prev, next int32
}

// list is a doubly linked list threaded through tcb slot indices.
type list struct {
	head, tail int32
	size       int
}

// Info is the read-only snapshot returned by lookup and enumeration APIs.
type Info struct {
	ID       types.ThreadID    `json:"id"`
	Task     types.TaskID      `json:"task"`
	Name     string            `json:"name"`
	State    types.ThreadState `json:"state"`
	Priority int               `json:"priority"`
	Flags    types.ThreadFlags `json:"flags"`
	ExitCode int32             `json:"exit_code"`
}

// Manager owns the thread table and both lists. Like the scheduler it is an
// owned context object created at boot, never a package global.
type Manager struct {
	mu    sync.Mutex
	cfg   Config
	sw    arch.Switcher
	clock arch.Clock
	obs   Observer

	slots   []tcb
	ready   list
	blocked list

	current int32 // slot index of the running thread
	nextID  types.ThreadID
	created uint64
	count   int

	// taskSource resolves the owning task recorded on new threads; the
	// kernel binds the scheduler's CurrentTask here.
	taskSource func() types.TaskID
}

// NewManager builds the thread table and installs the bootstrap thread
// (id 0) as the running thread, representing the flow of control that
// called it.
func NewManager(cfg Config, sw arch.Switcher, clock arch.Clock, obs Observer) *Manager {
	cfg.applyDefaults()
	if obs == nil {
		obs = NopObserver{}
	}

	m := &Manager{
		cfg:     cfg,
		sw:      sw,
		clock:   clock,
		obs:     obs,
		slots:   make([]tcb, cfg.TableSize),
		ready:   list{head: nilSlot, tail: nilSlot},
		blocked: list{head: nilSlot, tail: nilSlot},
	}

	boot := &m.slots[0]
	*boot = tcb{
		inUse:    true,
		id:       0,
		name:     "main",
		state:    types.ThreadRunning,
		priority: types.ThreadPriorityNormal,
		flags:    types.ThreadFlagSystem | types.ThreadFlagJoinable,
		ctx:      arch.NewBootstrapContext(),
		prev:     nilSlot,
		next:     nilSlot,
	}
	boot.joinSem = ksync.NewSemaphore(m, 0, 1)
	m.current = 0
	m.nextID = 1
	m.created = 1
	m.count = 1
	return m
}

// BindTaskSource installs the resolver for the owning task id stamped on
// newly created threads.
func (m *Manager) BindTaskSource(fn func() types.TaskID) {
	m.mu.Lock()
	m.taskSource = fn
	m.mu.Unlock()
}

// ============================================================================
// ksync.Runtime implementation
// ============================================================================

// Yield lets the join semaphore's yield-retry loop (and any other primitive
// bound to the manager) give the CPU back through the thread scheduler.
func (m *Manager) Yield() {
	m.schedule()
}

// CurrentID reports the running thread's id as the execution-unit identity.
func (m *Manager) CurrentID() int64 {
	return int64(m.Current())
}

// ============================================================================
// Lifecycle operations
// ============================================================================

// Create allocates a control block and stack, builds the initial context
// through the entry wrapper, and appends the thread to the ready list.
// Out-of-range priorities clamp to normal; stackSize <= 0 takes the default
// and is aligned up to 16 bytes. Returns the invalid-id sentinel with an
// error when the table is full.
func (m *Manager) Create(entry EntryFunc, arg any, stackSize int, priority int, flags types.ThreadFlags, name string) (types.ThreadID, error) {
	priority = types.ClampThreadPriority(priority)
	if stackSize <= 0 {
		stackSize = m.cfg.DefaultStackSize
	}
	stackSize = (stackSize + stackAlign - 1) &^ (stackAlign - 1)
	if flags&types.ThreadFlagDetached == 0 {
		flags |= types.ThreadFlagJoinable
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	slot := m.freeSlotLocked()
	if slot == nilSlot {
		return types.InvalidID, fmt.Errorf("create thread %q: %w", name, ErrTableFull)
	}

	id := m.nextID
	t := &m.slots[slot]
	*t = tcb{
		inUse:    true,
		id:       id,
		name:     name,
		state:    types.ThreadNew,
		priority: priority,
		flags:    flags,
		entry:    entry,
		arg:      arg,
		stack:    make([]byte, stackSize),
		prev:     nilSlot,
		next:     nilSlot,
	}
	t.joinSem = ksync.NewSemaphore(m, 0, 1)
	t.ctx = arch.NewContext(func() { m.run(slot) })
	if m.taskSource != nil {
		t.task = m.taskSource()
	}

	// Promote NEW to READY before returning; callers never observe NEW.
	t.state = types.ThreadReady
	m.listAppend(&m.ready, slot)

	m.nextID++
	m.created++
	m.count++
	m.obs.ThreadCreated(id, priority)
	return id, nil
}

// run is the entry wrapper every thread starts in.
func (m *Manager) run(slot int32) {
	var (
		entry EntryFunc
		arg   any
	)
	m.mu.Lock()
	entry = m.slots[slot].entry
	arg = m.slots[slot].arg
	m.mu.Unlock()

	entry(arg)
	m.Exit(0)
}

// Exit terminates the calling thread: zombie state, exit code recorded,
// join semaphore signaled exactly once. A detached thread is cleaned up
// immediately instead of waiting for a joiner. The call switches away and,
// on a live switcher, never returns.
func (m *Manager) Exit(code int32) {
	m.mu.Lock()
	cur := &m.slots[m.current]
	cur.state = types.ThreadZombie
	cur.exitCode = code

	var sem *ksync.Semaphore
	if !cur.exited {
		cur.exited = true
		sem = cur.joinSem
	}
	id := cur.id
	if cur.flags&types.ThreadFlagDetached != 0 {
		m.cleanupLocked(m.current)
	}
	m.obs.ThreadExited(id, code)
	m.mu.Unlock()

	if sem != nil {
		sem.Signal()
	}
	m.schedule()
}

// Join waits for the target thread to exit, copies its exit code and
// reclaims its slot. Joining yourself or a detached thread is rejected.
// Join is single-use: cleanup frees the control block, so a second join on
// the same id fails with ErrNotFound.
func (m *Manager) Join(id types.ThreadID, exitCode *int32) error {
	m.mu.Lock()
	slot := m.findLocked(id)
	if slot == nilSlot {
		return m.failLocked("join thread %d: %w", id, ErrNotFound)
	}
	if slot == m.current {
		return m.failLocked("join thread %d: %w", id, ErrJoinSelf)
	}
	t := &m.slots[slot]
	if t.flags&types.ThreadFlagDetached != 0 {
		return m.failLocked("join thread %d: %w", id, ErrDetached)
	}
	sem := t.joinSem
	m.mu.Unlock()

	// Unbounded wait; the exiting thread signals exactly once.
	sem.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Refind: a concurrent joiner may have reclaimed the slot already, and
	// the slot may since host a different thread.
	slot = m.findLocked(id)
	if slot == nilSlot {
		return fmt.Errorf("join thread %d: %w", id, ErrNotFound)
	}
	if exitCode != nil {
		*exitCode = m.slots[slot].exitCode
	}
	m.cleanupLocked(slot)
	return nil
}

// Detach marks a thread as never-joined; its resources are reclaimed
// automatically at exit. Detaching an already-zombie thread reclaims it
// immediately.
func (m *Manager) Detach(id types.ThreadID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot := m.findLocked(id)
	if slot == nilSlot {
		return fmt.Errorf("detach thread %d: %w", id, ErrNotFound)
	}
	t := &m.slots[slot]
	t.flags |= types.ThreadFlagDetached
	t.flags &^= types.ThreadFlagJoinable
	if t.state == types.ThreadZombie {
		m.cleanupLocked(slot)
	}
	return nil
}

// Block moves the calling thread to the blocked list and yields.
func (m *Manager) Block() {
	m.mu.Lock()
	cur := &m.slots[m.current]
	cur.state = types.ThreadBlocked
	m.listAppend(&m.blocked, m.current)
	m.mu.Unlock()

	m.schedule()
}

// Unblock moves a specifically-blocked thread back to the ready list.
// Unblocking a thread that is not blocked fails and changes nothing.
func (m *Manager) Unblock(id types.ThreadID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot := m.findLocked(id)
	if slot == nilSlot {
		return fmt.Errorf("unblock thread %d: %w", id, ErrNotFound)
	}
	t := &m.slots[slot]
	if t.state != types.ThreadBlocked {
		log.Printf("[WARN] thread: unblock of thread %d in state %s", id, t.state)
		return fmt.Errorf("unblock thread %d: %w", id, ErrNotBlocked)
	}

	m.listRemove(&m.blocked, slot)
	t.state = types.ThreadReady
	m.listAppend(&m.ready, slot)
	return nil
}

// YieldThread invokes the thread scheduler without changing the caller's
// state.
func (m *Manager) YieldThread() {
	m.schedule()
}

// Sleep busy-yields until the deadline computed from the monotonic clock
// elapses. Approximate: every yield re-checks the clock, there is no sleep
// queue.
func (m *Manager) Sleep(ms int64) {
	deadline := m.clock.Nanotime() + ms*1e6
	for m.clock.Nanotime() < deadline {
		m.schedule()
	}
}

// ============================================================================
// Administrative operations
// ============================================================================

// SetPriority changes a thread's priority (clamped to normal when out of
// range). Takes effect at the next scheduling decision.
func (m *Manager) SetPriority(id types.ThreadID, priority int) error {
	priority = types.ClampThreadPriority(priority)

	m.mu.Lock()
	defer m.mu.Unlock()

	slot := m.findLocked(id)
	if slot == nilSlot {
		return fmt.Errorf("set priority of thread %d: %w", id, ErrNotFound)
	}
	m.slots[slot].priority = priority
	return nil
}

// GetByID returns a snapshot of the thread with the given id.
func (m *Manager) GetByID(id types.ThreadID) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot := m.findLocked(id)
	if slot == nilSlot {
		return Info{}, fmt.Errorf("get thread %d: %w", id, ErrNotFound)
	}
	return m.infoLocked(slot), nil
}

// List enumerates all live threads in slot order.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, m.count)
	for i := range m.slots {
		if m.slots[i].inUse {
			out = append(out, m.infoLocked(int32(i)))
		}
	}
	return out
}

// Count reports the number of live threads (bootstrap included).
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Current reports the running thread's id.
func (m *Manager) Current() types.ThreadID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[m.current].id
}

// Stats returns a snapshot of the thread-layer counters.
func (m *Manager) Stats() types.ThreadStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.ThreadStats{
		ThreadsCreated: m.created,
		ThreadsLive:    m.count,
		ReadyCount:     m.ready.size,
		BlockedCount:   m.blocked.size,
		CurrentThread:  m.slots[m.current].id,
	}
}

// ============================================================================
// Internal thread scheduler
// ============================================================================

// schedule picks the ready thread with the numerically highest priority
// (first-found wins among equals, i.e. earliest-inserted), demotes a
// still-running current thread back to the ready tail, and switches.
// With nothing ready the current thread keeps the CPU.
func (m *Manager) schedule() {
	m.mu.Lock()

	best := nilSlot
	for i := m.ready.head; i != nilSlot; i = m.slots[i].next {
		if best == nilSlot || m.slots[i].priority > m.slots[best].priority {
			best = i
		}
	}
	if best == nilSlot {
		m.mu.Unlock()
		return
	}

	prev := m.current
	prevT := &m.slots[prev]
	from := prevT.ctx
	if prevT.state == types.ThreadZombie || prevT.state == types.ThreadDead {
		// Exiting flow: it never resumes, so its goroutine must not be
		// parked.
		from = nil
	}
	if prevT.state == types.ThreadRunning {
		prevT.state = types.ThreadReady
		m.listAppend(&m.ready, prev)
	}

	m.listRemove(&m.ready, best)
	m.slots[best].state = types.ThreadRunning
	m.current = best
	to := m.slots[best].ctx
	m.mu.Unlock()

	if best != prev {
		m.sw.Switch(from, to)
	}
}

// ============================================================================
// Internal helpers (callers hold m.mu)
// ============================================================================

// failLocked unlocks and wraps; Join's early-out paths use it.
func (m *Manager) failLocked(format string, id types.ThreadID, err error) error {
	m.mu.Unlock()
	return fmt.Errorf(format, id, err)
}

func (m *Manager) freeSlotLocked() int32 {
	for i := range m.slots {
		if !m.slots[i].inUse {
			return int32(i)
		}
	}
	return nilSlot
}

func (m *Manager) findLocked(id types.ThreadID) int32 {
	for i := range m.slots {
		if m.slots[i].inUse && m.slots[i].id == id {
			return int32(i)
		}
	}
	return nilSlot
}

// cleanupLocked releases a thread's slot, stack and control block. The
// final transition to DEAD; after this the id no longer resolves.
func (m *Manager) cleanupLocked(slot int32) {
	t := &m.slots[slot]
	if t.state == types.ThreadReady {
		m.listRemove(&m.ready, slot)
	} else if t.state == types.ThreadBlocked {
		m.listRemove(&m.blocked, slot)
	}
	t.state = types.ThreadDead
	t.stack = nil
	t.entry = nil
	t.arg = nil
	t.inUse = false
	m.count--
}

func (m *Manager) infoLocked(slot int32) Info {
	t := &m.slots[slot]
	return Info{
		ID:       t.id,
		Task:     t.task,
		Name:     t.name,
		State:    t.state,
		Priority: t.priority,
		Flags:    t.flags,
		ExitCode: t.exitCode,
	}
}

func (m *Manager) listAppend(l *list, slot int32) {
	t := &m.slots[slot]
	t.next = nilSlot
	t.prev = l.tail
	if l.tail != nilSlot {
		m.slots[l.tail].next = slot
	} else {
		l.head = slot
	}
	l.tail = slot
	l.size++
}

func (m *Manager) listRemove(l *list, slot int32) {
	t := &m.slots[slot]
	if t.prev != nilSlot {
		m.slots[t.prev].next = t.next
	} else {
		l.head = t.next
	}
	if t.next != nilSlot {
		m.slots[t.next].prev = t.prev
	} else {
		l.tail = t.prev
	}
	t.prev = nilSlot
	t.next = nilSlot
	l.size--
}
