// Package types defines the core domain model shared by the nanokernel
// scheduler, thread layer and synchronization primitives.
package types

// TaskID identifies a task, the coarse-grained scheduling unit. Negative
// values are error sentinels returned by creation APIs.
type TaskID int32

// ThreadID identifies a thread within a task. ID 0 is reserved for the
// bootstrap thread created during thread-layer initialization. Negative
// values are error sentinels.
type ThreadID int32

// InvalidID is the sentinel returned when task or thread creation fails.
const InvalidID = -1

// TaskState is the scheduler-level lifecycle state of a task.
type TaskState uint8

const (
	TaskReady   TaskState = iota // on a ready queue, waiting for dispatch
	TaskRunning                  // currently executing (at most one at a time)
	TaskBlocked                  // explicitly blocked, off the ready queues
	TaskZombie                   // terminated, awaiting reclamation
)

func (s TaskState) String() string {
	switch s {
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskBlocked:
		return "blocked"
	case TaskZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// ThreadState is the thread-layer lifecycle state.
//
// ThreadNew is only ever observed inside Create's allocation phase; a thread
// is promoted to ThreadReady before Create returns.
type ThreadState uint8

const (
	ThreadNew ThreadState = iota
	ThreadReady
	ThreadRunning
	ThreadBlocked
	ThreadWaiting
	ThreadZombie
	ThreadDead
)

func (s ThreadState) String() string {
	switch s {
	case ThreadNew:
		return "new"
	case ThreadReady:
		return "ready"
	case ThreadRunning:
		return "running"
	case ThreadBlocked:
		return "blocked"
	case ThreadWaiting:
		return "waiting"
	case ThreadZombie:
		return "zombie"
	case ThreadDead:
		return "dead"
	default:
		return "unknown"
	}
}

// ============================================================================
// Task priorities
// ============================================================================

// Task priorities run 0 (highest) through NumTaskPriorities-1 (lowest); the
// scheduler owns one FIFO ready queue per level and scans them ascending.
const (
	NumTaskPriorities   = 8
	TaskPriorityHighest = 0
	TaskPriorityDefault = 4
	TaskPriorityLowest  = NumTaskPriorities - 1
)

// ClampTaskPriority forces prio into the valid [0, NumTaskPriorities-1] range.
func ClampTaskPriority(prio int) int {
	if prio < TaskPriorityHighest {
		return TaskPriorityHighest
	}
	if prio > TaskPriorityLowest {
		return TaskPriorityLowest
	}
	return prio
}

// ============================================================================
// Thread priorities
// ============================================================================

// Thread priorities run 0 through 5 and use the inverse convention of task
// priorities: a numerically higher value is more urgent. Out-of-range values
// are clamped to ThreadPriorityNormal at creation.
const (
	ThreadPriorityIdle     = 0
	ThreadPriorityLow      = 1
	ThreadPriorityNormal   = 2
	ThreadPriorityHigh     = 4
	ThreadPriorityRealtime = 5

	ThreadPriorityMin = ThreadPriorityIdle
	ThreadPriorityMax = ThreadPriorityRealtime
)

// ClampThreadPriority maps an out-of-range thread priority to the normal
// level rather than the nearest bound.
func ClampThreadPriority(prio int) int {
	if prio < ThreadPriorityMin || prio > ThreadPriorityMax {
		return ThreadPriorityNormal
	}
	return prio
}

// ============================================================================
// Flags
// ============================================================================

// TaskFlags is the bitmask attached to a task at creation time.
type TaskFlags uint32

const (
	TaskFlagKernel TaskFlags = 1 << iota
	TaskFlagUser
)

// ThreadFlags is the bitmask attached to a thread at creation time.
type ThreadFlags uint32

const (
	ThreadFlagSystem ThreadFlags = 1 << iota
	ThreadFlagUser
	ThreadFlagDetached
	ThreadFlagJoinable
)

// ============================================================================
// Stats snapshots
// ============================================================================

// SchedulerStats is a point-in-time snapshot of scheduler counters, taken
// under the scheduler lock.
type SchedulerStats struct {
	Ticks           uint64 `json:"ticks"`
	ContextSwitches uint64 `json:"context_switches"`
	Preemptions     uint64 `json:"preemptions"`
	TasksCreated    uint64 `json:"tasks_created"`
	TasksLive       int    `json:"tasks_live"`
	TasksBlocked    int    `json:"tasks_blocked"`
	TasksZombie     int    `json:"tasks_zombie"`
	CurrentTask     TaskID `json:"current_task"`
	PreemptionOn    bool   `json:"preemption_on"`

	// ReadyByPriority[p] is the number of tasks queued at level p.
	ReadyByPriority [NumTaskPriorities]int `json:"ready_by_priority"`
}

// ThreadStats is a point-in-time snapshot of thread-layer counters.
type ThreadStats struct {
	ThreadsCreated uint64   `json:"threads_created"`
	ThreadsLive    int      `json:"threads_live"`
	ReadyCount     int      `json:"ready_count"`
	BlockedCount   int      `json:"blocked_count"`
	CurrentThread  ThreadID `json:"current_thread"`
}
