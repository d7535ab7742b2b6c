// ============================================================================
// Task scheduler
// Responsibilities:
// 1. Own one FIFO ready queue per priority level (0 = highest)
// 2. Select the next task: scan levels ascending, take the head of the
//    first non-empty level, fall back to the idle task
// 3. Enforce variable time slices under the periodic tick
// 4. Drive the context switch, always outside the scheduler lock
//
// Priority 0 tasks get the largest slice: slice = base + (levels-1-p)*factor.
// That trades naive equal-slice fairness for more continuous runtime per
// dispatch at high priority.
// ============================================================================

package sched

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ChuLiYu/nanokernel/internal/arch"
	"github.com/ChuLiYu/nanokernel/pkg/types"
)

var (
	// ErrQueueFull means the target priority level's ready queue is at
	// capacity.
	ErrQueueFull = errors.New("ready queue full")
	// ErrTaskNotFound means no task with the given id exists.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskNotBlocked means Unblock was called on a task that is not in
	// the blocked state.
	ErrTaskNotBlocked = errors.New("task not blocked")
)

// Config carries the scheduler tunables.
type Config struct {
	// QueueCapacity is the fixed capacity of each per-priority ready queue.
	QueueCapacity int
	// BaseSlice is the tick count granted to the lowest priority level.
	BaseSlice uint32
	// SliceFactor is the extra ticks granted per level above the lowest.
	SliceFactor uint32
	// StackSize is the default task stack size in bytes.
	StackSize int
}

// Default tunables.
const (
	DefaultQueueCapacity = 64
	DefaultBaseSlice     = 5
	DefaultSliceFactor   = 2
	DefaultStackSize     = 16 * 1024
)

func (c *Config) applyDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.BaseSlice == 0 {
		c.BaseSlice = DefaultBaseSlice
	}
	if c.SliceFactor == 0 {
		c.SliceFactor = DefaultSliceFactor
	}
	if c.StackSize <= 0 {
		c.StackSize = DefaultStackSize
	}
}

// Scheduler owns the task table and the ready queues. It is created once at
// kernel boot and lives until shutdown; there is no package-global instance.
type Scheduler struct {
	mu  sync.Mutex
	cfg Config
	sw  arch.Switcher
	obs Observer

	tasks  map[types.TaskID]*Task
	queues [types.NumTaskPriorities]*ringQueue

	current *Task
	idle    *Task

	// bootCtx stands in for the flow of control that calls Schedule before
	// any task has ever been dispatched.
	bootCtx *arch.Context

	nextID       types.TaskID
	preemptionOn bool

	ticks       uint64
	switches    uint64
	preemptions uint64
	created     uint64
}

// New builds a scheduler with the idle task registered. Preemption starts
// disabled so early-boot callers can create tasks before switching is safe;
// call EnablePreemption once the environment is ready.
func New(cfg Config, sw arch.Switcher, obs Observer) *Scheduler {
	cfg.applyDefaults()
	if obs == nil {
		obs = NopObserver{}
	}

	s := &Scheduler{
		cfg:     cfg,
		sw:      sw,
		obs:     obs,
		tasks:   make(map[types.TaskID]*Task),
		bootCtx: arch.NewBootstrapContext(),
	}
	for i := range s.queues {
		s.queues[i] = newRingQueue(cfg.QueueCapacity)
	}

	// The idle task is a sentinel: never queued, run only when every ready
	// queue is empty.
	idle := &Task{
		ID:        s.nextID,
		Name:      "idle",
		Priority:  types.TaskPriorityLowest,
		State:     types.TaskReady,
		Flags:     types.TaskFlagKernel,
		StackSize: cfg.StackSize,
	}
	// The idle body stands in for a halted CPU: doze briefly, then offer
	// the CPU back in case a tick or unblock made something runnable.
	idle.Entry = func() {
		for {
			time.Sleep(time.Millisecond)
			s.Yield()
		}
	}
	idle.Context = arch.NewContext(idle.Entry)
	s.idle = idle
	s.tasks[idle.ID] = idle
	s.nextID++

	return s
}

// CreateTask allocates a task, builds its initial context and enqueues it
// ready at the clamped priority. Returns the new id, or the invalid-id
// sentinel with an error on resource exhaustion.
func (s *Scheduler) CreateTask(entry func(), name string, priority int, flags types.TaskFlags) (types.TaskID, error) {
	priority = types.ClampTaskPriority(priority)

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	t := &Task{
		ID:        id,
		Name:      name,
		Priority:  priority,
		State:     types.TaskReady,
		Flags:     flags,
		StackSize: s.cfg.StackSize,
		Entry:     entry,
		readyAt:   s.ticks,
	}
	// First dispatch enters through a trampoline that runs the entry and
	// terminates the task if the entry ever returns.
	t.Context = arch.NewContext(func() {
		entry()
		s.Terminate(id, 0)
	})

	if !s.queues[priority].push(t) {
		return types.InvalidID, fmt.Errorf("create task %q at priority %d: %w", name, priority, ErrQueueFull)
	}

	s.tasks[id] = t
	s.nextID++
	s.created++
	s.obs.TaskCreated(id, priority)
	return id, nil
}

// Schedule performs one dispatch decision. No-op while preemption is
// disabled. If the current task is still running it is demoted to ready and
// requeued at the tail of its level (round-robin within the level); the
// next task is the head of the first non-empty level, or idle. The context
// switch itself runs after the lock is dropped.
func (s *Scheduler) Schedule() {
	s.mu.Lock()
	if !s.preemptionOn {
		s.mu.Unlock()
		return
	}

	prev := s.current
	from := s.bootCtx
	if prev != nil {
		from = prev.Context
		if prev.State == types.TaskZombie {
			// Exiting flow: it never resumes, so its goroutine must not
			// be parked.
			from = nil
		}
		if prev.State == types.TaskRunning {
			if prev != s.idle && !s.queues[prev.Priority].push(prev) {
				// No room to demote into: the running task keeps the CPU
				// with a fresh slice, and this decision is skipped. The
				// level drains through exits and blocks, so a later
				// reschedule can succeed.
				log.Printf("[WARN] sched: ready queue %d full, task %d keeps running", prev.Priority, prev.ID)
				prev.TimeSlice = s.sliceFor(prev.Priority)
				s.mu.Unlock()
				return
			}
			prev.State = types.TaskReady
			prev.readyAt = s.ticks
		}
	}

	next := s.pickLocked()
	next.State = types.TaskRunning
	next.TimeSlice = s.sliceFor(next.Priority)
	s.current = next
	if next != prev {
		s.switches++
		s.obs.TaskDispatched(next.ID, s.ticks-next.readyAt)
	}
	s.mu.Unlock()

	if next != prev {
		s.sw.Switch(from, next.Context)
	}
}

// Yield gives up the CPU voluntarily. Like Schedule it is a no-op while
// preemption is disabled.
func (s *Scheduler) Yield() {
	s.Schedule()
}

// Tick is called once per timer interrupt. It always counts; with
// preemption enabled it burns one tick of the current slice and triggers a
// reschedule exactly when the slice hits zero.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	s.ticks++
	s.obs.TickAdvanced(s.ticks)

	expired := false
	if s.preemptionOn && s.current != nil && s.current.TimeSlice > 0 {
		s.current.TimeSlice--
		if s.current.TimeSlice == 0 {
			expired = true
			s.preemptions++
			s.obs.TaskPreempted(s.current.ID)
		}
	}
	s.mu.Unlock()

	if expired {
		s.Schedule()
	}
}

// BlockCurrent transitions the running task to blocked and reschedules.
func (s *Scheduler) BlockCurrent() {
	s.mu.Lock()
	cur := s.current
	if cur == nil || cur == s.idle {
		s.mu.Unlock()
		return
	}
	cur.State = types.TaskBlocked
	s.mu.Unlock()

	s.Schedule()
}

// Unblock moves a blocked task back to its ready queue.
func (s *Scheduler) Unblock(id types.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("unblock task %d: %w", id, ErrTaskNotFound)
	}
	if t.State != types.TaskBlocked {
		log.Printf("[WARN] sched: unblock of task %d in state %s", id, t.State)
		return fmt.Errorf("unblock task %d: %w", id, ErrTaskNotBlocked)
	}

	// Push before flipping the state so a full level leaves the task
	// blocked and the unblock retryable.
	if !s.queues[t.Priority].push(t) {
		return fmt.Errorf("unblock task %d: %w", id, ErrQueueFull)
	}
	t.State = types.TaskReady
	t.readyAt = s.ticks
	return nil
}

// Terminate transitions a task to zombie and records its exit code. When
// the target is the running task the call reschedules immediately and, on a
// live switcher, never returns to the caller.
func (s *Scheduler) Terminate(id types.TaskID, exitCode int32) error {
	s.mu.Lock()

	t, ok := s.tasks[id]
	if !ok || t == s.idle {
		s.mu.Unlock()
		return fmt.Errorf("terminate task %d: %w", id, ErrTaskNotFound)
	}

	wasReady := t.State == types.TaskReady
	t.State = types.TaskZombie
	t.ExitCode = exitCode
	if wasReady {
		s.queues[t.Priority].remove(id)
	}
	s.obs.TaskTerminated(id, exitCode)

	self := t == s.current
	s.mu.Unlock()

	if self {
		s.Schedule()
	}
	return nil
}

// SetPriority moves a task to a new (clamped) priority level. A ready task
// is migrated to the tail of the new level's queue.
func (s *Scheduler) SetPriority(id types.TaskID, priority int) error {
	priority = types.ClampTaskPriority(priority)

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("set priority of task %d: %w", id, ErrTaskNotFound)
	}
	if t.Priority == priority {
		return nil
	}

	if t.State == types.TaskReady && t != s.idle {
		// Push into the new level first: when it is full the task stays
		// queued at its old level with its old priority, fully consistent.
		if !s.queues[priority].push(t) {
			return fmt.Errorf("set priority of task %d: %w", id, ErrQueueFull)
		}
		s.queues[t.Priority].remove(id)
		t.Priority = priority
		return nil
	}
	t.Priority = priority
	return nil
}

// FindByID returns a snapshot of the task with the given id.
func (s *Scheduler) FindByID(id types.TaskID) (TaskInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return TaskInfo{}, fmt.Errorf("find task %d: %w", id, ErrTaskNotFound)
	}
	return t.info(), nil
}

// CurrentTask reports the id of the running task, or the invalid-id
// sentinel before the first dispatch.
func (s *Scheduler) CurrentTask() types.TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return types.InvalidID
	}
	return s.current.ID
}

// EnablePreemption arms tick-driven switching. DisablePreemption turns
// Schedule and Yield into no-ops; Tick keeps counting either way. This
// supports critical early-boot sections before task switching is safe.
func (s *Scheduler) EnablePreemption() {
	s.mu.Lock()
	s.preemptionOn = true
	s.mu.Unlock()
}

// DisablePreemption suspends tick-driven switching.
func (s *Scheduler) DisablePreemption() {
	s.mu.Lock()
	s.preemptionOn = false
	s.mu.Unlock()
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() types.SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := types.SchedulerStats{
		Ticks:           s.ticks,
		ContextSwitches: s.switches,
		Preemptions:     s.preemptions,
		TasksCreated:    s.created,
		CurrentTask:     types.InvalidID,
		PreemptionOn:    s.preemptionOn,
	}
	if s.current != nil {
		st.CurrentTask = s.current.ID
	}
	for p, q := range s.queues {
		st.ReadyByPriority[p] = q.len()
	}
	for _, t := range s.tasks {
		switch t.State {
		case types.TaskZombie:
			st.TasksZombie++
		case types.TaskBlocked:
			st.TasksBlocked++
			st.TasksLive++
		default:
			st.TasksLive++
		}
	}
	return st
}

// sliceFor computes the tick budget for one dispatch at the given level.
func (s *Scheduler) sliceFor(priority int) uint32 {
	return s.cfg.BaseSlice + uint32(types.NumTaskPriorities-1-priority)*s.cfg.SliceFactor
}

// pickLocked selects the next task: ascending priority scan, idle fallback.
// Finding neither is unrecoverable; the processor would have nothing valid
// to execute.
func (s *Scheduler) pickLocked() *Task {
	for _, q := range s.queues {
		if t := q.pop(); t != nil {
			return t
		}
	}
	if s.idle == nil {
		log.Printf("[ERROR] sched: no runnable task and no idle task registered")
		panic("sched: nothing to run")
	}
	return s.idle
}
