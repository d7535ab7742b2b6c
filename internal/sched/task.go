package sched

import (
	"github.com/ChuLiYu/nanokernel/internal/arch"
	"github.com/ChuLiYu/nanokernel/pkg/types"
)

// Task is the scheduler's control block for one coarse-grained execution
// unit. The tasks map is the single owner; ready queues hold non-owning
// references into it. All state transitions happen under the scheduler lock.
type Task struct {
	ID        types.TaskID
	Name      string
	Priority  int
	State     types.TaskState
	Flags     types.TaskFlags
	StackSize int
	ExitCode  int32

	// TimeSlice is the remaining ticks of the current dispatch, recomputed
	// from the priority formula every time the task is promoted to running.
	TimeSlice uint32

	Entry   func()
	Context *arch.Context

	// readyAt is the tick at which the task last entered a ready queue,
	// used to report dispatch latency.
	readyAt uint64
}

// TaskInfo is the read-only snapshot returned by lookup APIs.
type TaskInfo struct {
	ID        types.TaskID    `json:"id"`
	Name      string          `json:"name"`
	Priority  int             `json:"priority"`
	State     types.TaskState `json:"state"`
	TimeSlice uint32          `json:"time_slice"`
	ExitCode  int32           `json:"exit_code"`
}

func (t *Task) info() TaskInfo {
	return TaskInfo{
		ID:        t.ID,
		Name:      t.Name,
		Priority:  t.Priority,
		State:     t.State,
		TimeSlice: t.TimeSlice,
		ExitCode:  t.ExitCode,
	}
}

// Observer receives scheduler lifecycle events; the kernel fans these out to
// the metrics collector and the trace writer. Callbacks run under the
// scheduler lock and must not call back into the scheduler.
type Observer interface {
	TaskCreated(id types.TaskID, priority int)
	TaskDispatched(id types.TaskID, waitTicks uint64)
	TaskPreempted(id types.TaskID)
	TaskTerminated(id types.TaskID, exitCode int32)
	TickAdvanced(total uint64)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) TaskCreated(types.TaskID, int)         {}
func (NopObserver) TaskDispatched(types.TaskID, uint64)   {}
func (NopObserver) TaskPreempted(types.TaskID)            {}
func (NopObserver) TaskTerminated(types.TaskID, int32)    {}
func (NopObserver) TickAdvanced(uint64)                   {}
