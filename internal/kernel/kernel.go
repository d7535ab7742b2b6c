// ============================================================================
// Kernel - core coordinator
// Responsibilities: wire the subsystems into one bootable kernel instance
// and run the background stats loop.
//
// The kernel owns and coordinates:
//   - Scheduler: per-priority ready queues, time slices, preemption
//   - Thread Manager: thread table, join/detach, thread scheduling
//   - Trace Writer: append-only event log of scheduling decisions
//   - Metrics Collector: Prometheus counters, histograms and gauges
//
// Execution model:
//   Exactly one flow of control runs kernel code at a time. Timer ticks are
//   delivered by the running task itself through Tick (a simulated timer
//   interrupt), never from an outside goroutine, so a reschedule can only
//   happen at a point where the current task's state is saveable.
//
//   The one background goroutine the kernel runs (the stats loop) never
//   touches the scheduler's dispatch path: it only snapshots counters into
//   gauges and flushes the trace buffer.
//
// Shutdown:
//   Stop closes stopCh, waits for the stats loop on loopWg, disables
//   preemption and flushes/closes the trace. Stop is idempotent.
//
// ============================================================================

package kernel

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/nanokernel/internal/arch"
	"github.com/ChuLiYu/nanokernel/internal/ksync"
	"github.com/ChuLiYu/nanokernel/internal/metrics"
	"github.com/ChuLiYu/nanokernel/internal/sched"
	"github.com/ChuLiYu/nanokernel/internal/thread"
	"github.com/ChuLiYu/nanokernel/internal/trace"
	"github.com/ChuLiYu/nanokernel/pkg/types"
)

var log = slog.Default()

// Config carries the kernel-level tunables.
type Config struct {
	Scheduler sched.Config
	Thread    thread.Config

	// Live selects goroutine-backed context switching. With Live off the
	// kernel uses the recording switcher: dispatch decisions are made but
	// control never transfers, which is what unit tests and dry runs want.
	Live bool

	// TracePath enables the event trace when non-empty.
	TracePath          string
	TraceBufferSize    int
	TraceFlushInterval time.Duration

	// MetricsEnabled registers the Prometheus collector.
	MetricsEnabled bool

	// StatsInterval is the gauge-refresh and trace-flush period.
	StatsInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.StatsInterval <= 0 {
		c.StatsInterval = 100 * time.Millisecond
	}
	if c.TraceFlushInterval <= 0 {
		c.TraceFlushInterval = time.Second
	}
}

// Kernel is the owned context object holding every subsystem. There is no
// package-global kernel; callers create one, start it, and pass it around.
type Kernel struct {
	mu  sync.Mutex
	cfg Config

	clock     arch.Clock
	sw        arch.Switcher
	scheduler *sched.Scheduler
	threads   *thread.Manager
	tracer    *trace.Writer
	collector *metrics.Collector

	stopCh    chan struct{}
	loopWg    sync.WaitGroup
	started   bool
	stopped   bool
	startTime time.Time
}

// New builds a kernel: clock, switcher, observers, scheduler and thread
// manager, plus the trace writer and metrics collector when configured.
func New(cfg Config) (*Kernel, error) {
	cfg.applyDefaults()

	k := &Kernel{
		cfg:    cfg,
		clock:  arch.NewMonotonicClock(),
		stopCh: make(chan struct{}),
	}

	if cfg.Live {
		k.sw = arch.NewGoroutineSwitcher()
	} else {
		k.sw = arch.NewRecordingSwitcher()
	}

	if cfg.TracePath != "" {
		w, err := trace.NewWriter(cfg.TracePath, cfg.TraceBufferSize, cfg.TraceFlushInterval)
		if err != nil {
			return nil, fmt.Errorf("open trace: %w", err)
		}
		k.tracer = w
	}

	if cfg.MetricsEnabled {
		k.collector = metrics.NewCollector()
	}

	obs := &observer{k: k}
	k.scheduler = sched.New(cfg.Scheduler, k.sw, obs)
	k.threads = thread.NewManager(cfg.Thread, k.sw, k.clock, obs)

	// New threads record the task they were created under.
	k.threads.BindTaskSource(k.scheduler.CurrentTask)

	return k, nil
}

// Start arms preemption and launches the stats loop. Starting twice fails.
func (k *Kernel) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.started {
		return fmt.Errorf("kernel already started")
	}
	k.started = true
	k.startTime = time.Now()

	k.scheduler.EnablePreemption()

	k.loopWg.Add(1)
	go k.statsLoop()

	log.Info("kernel started",
		"live", k.cfg.Live,
		"trace", k.cfg.TracePath != "",
		"metrics", k.cfg.MetricsEnabled)
	return nil
}

// Run dispatches the first task and gives the calling flow of control to the
// scheduler. On a live switcher the call parks until something switches back
// into the boot context; with the recording switcher it returns immediately
// after the dispatch decision.
func (k *Kernel) Run() {
	k.scheduler.Schedule()
}

// Stop shuts the kernel down: stats loop joined, preemption disabled, trace
// flushed and closed. Idempotent.
func (k *Kernel) Stop() {
	k.mu.Lock()
	if k.stopped || !k.started {
		k.stopped = true
		k.mu.Unlock()
		return
	}
	k.stopped = true
	k.mu.Unlock()

	close(k.stopCh)
	k.loopWg.Wait()

	k.scheduler.DisablePreemption()

	if k.tracer != nil {
		if err := k.tracer.Close(); err != nil {
			log.Error("trace close failed", "error", err)
		}
	}

	log.Info("kernel stopped", "uptime", time.Since(k.startTime))
}

// Tick delivers one timer interrupt on behalf of the running task. Tasks
// call this from their own flow; the reschedule on slice expiry then happens
// at a well-defined suspension point.
func (k *Kernel) Tick() {
	k.scheduler.Tick()
}

// statsLoop periodically refreshes the metric gauges and flushes the trace
// buffer. It reads counters only; it never drives a dispatch.
func (k *Kernel) statsLoop() {
	defer k.loopWg.Done()

	ticker := time.NewTicker(k.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			k.pumpStats()
		case <-k.stopCh:
			k.pumpStats()
			return
		}
	}
}

func (k *Kernel) pumpStats() {
	if k.collector != nil {
		ss := k.scheduler.Stats()
		ready := 0
		for _, n := range ss.ReadyByPriority {
			ready += n
		}
		k.collector.UpdateTaskGauges(ready, ss.TasksBlocked)
		k.collector.UpdateThreadGauges(k.threads.Stats().ThreadsLive)
	}
	if k.tracer != nil {
		if err := k.tracer.Flush(); err != nil {
			log.Error("trace flush failed", "error", err)
		}
	}
}

// ============================================================================
// Subsystem access
// ============================================================================

// Scheduler exposes the task scheduler.
func (k *Kernel) Scheduler() *sched.Scheduler {
	return k.scheduler
}

// Threads exposes the thread manager.
func (k *Kernel) Threads() *thread.Manager {
	return k.threads
}

// Metrics exposes the collector, or nil when metrics are disabled.
func (k *Kernel) Metrics() *metrics.Collector {
	return k.collector
}

// Clock exposes the kernel's monotonic clock.
func (k *Kernel) Clock() arch.Clock {
	return k.clock
}

// ============================================================================
// Synchronization constructors
// ============================================================================

// taskRuntime adapts the task scheduler to the execution environment the
// sync primitives expect: yielding reschedules, identity is the running task.
type taskRuntime struct {
	s *sched.Scheduler
}

func (r taskRuntime) Yield()           { r.s.Yield() }
func (r taskRuntime) CurrentID() int64 { return int64(r.s.CurrentTask()) }

// Runtime returns the task-backed execution environment for primitives that
// synchronize between tasks. Thread-level primitives take the thread manager
// instead.
func (k *Kernel) Runtime() ksync.Runtime {
	return taskRuntime{s: k.scheduler}
}

// NewSpinlock builds a spinlock whose contention path yields through the
// task scheduler.
func (k *Kernel) NewSpinlock() *ksync.Spinlock {
	return ksync.NewSpinlock(k.Runtime())
}

// NewMutex builds a reentrant mutex owned by task identity.
func (k *Kernel) NewMutex() *ksync.Mutex {
	return ksync.NewMutex(k.Runtime())
}

// NewSemaphore builds a counting semaphore bounded at max.
func (k *Kernel) NewSemaphore(initial, max uint32) *ksync.Semaphore {
	return ksync.NewSemaphore(k.Runtime(), initial, max)
}

// NewCond builds a condition variable.
func (k *Kernel) NewCond() *ksync.Cond {
	return ksync.NewCond(k.Runtime())
}

// ============================================================================
// Snapshot
// ============================================================================

// Snapshot is a point-in-time view of both subsystems' counters.
type Snapshot struct {
	Scheduler types.SchedulerStats `json:"scheduler"`
	Threads   types.ThreadStats    `json:"threads"`
	TraceSeq  uint64               `json:"trace_seq"`
}

// Stats snapshots the scheduler and thread-layer counters.
func (k *Kernel) Stats() Snapshot {
	snap := Snapshot{
		Scheduler: k.scheduler.Stats(),
		Threads:   k.threads.Stats(),
	}
	if k.tracer != nil {
		snap.TraceSeq = k.tracer.Seq()
	}
	return snap
}

// ============================================================================
// Observer fan-out
// ============================================================================

// observer forwards scheduler and thread lifecycle events to the metrics
// collector and the trace writer. Callbacks run under subsystem locks, so
// they only touch the collector (lock-free counters) and the trace writer
// (its own lock).
type observer struct {
	k *Kernel
}

func (o *observer) emit(ev trace.Event) {
	if o.k.tracer == nil {
		return
	}
	ev.TimeNs = o.k.clock.Nanotime()
	if err := o.k.tracer.Append(ev); err != nil {
		log.Error("trace append failed", "kind", ev.Kind, "error", err)
	}
}

func (o *observer) TaskCreated(id types.TaskID, priority int) {
	if o.k.collector != nil {
		o.k.collector.RecordTaskCreated()
	}
	o.emit(trace.Event{Kind: trace.KindTaskCreated, Task: id, Priority: priority})
}

func (o *observer) TaskDispatched(id types.TaskID, waitTicks uint64) {
	if o.k.collector != nil {
		o.k.collector.RecordContextSwitch(waitTicks)
	}
	o.emit(trace.Event{Kind: trace.KindTaskDispatched, Task: id, WaitTick: waitTicks})
}

func (o *observer) TaskPreempted(id types.TaskID) {
	if o.k.collector != nil {
		o.k.collector.RecordPreemption()
	}
	o.emit(trace.Event{Kind: trace.KindTaskPreempted, Task: id})
}

func (o *observer) TaskTerminated(id types.TaskID, exitCode int32) {
	if o.k.collector != nil {
		o.k.collector.RecordTaskTerminated()
	}
	o.emit(trace.Event{Kind: trace.KindTaskTerminated, Task: id, ExitCode: exitCode})
}

func (o *observer) TickAdvanced(total uint64) {
	if o.k.collector != nil {
		o.k.collector.RecordTick()
	}
}

func (o *observer) ThreadCreated(id types.ThreadID, priority int) {
	if o.k.collector != nil {
		o.k.collector.RecordThreadCreated()
	}
	o.emit(trace.Event{Kind: trace.KindThreadCreated, Thread: id, Priority: priority})
}

func (o *observer) ThreadExited(id types.ThreadID, exitCode int32) {
	if o.k.collector != nil {
		o.k.collector.RecordThreadExited()
	}
	o.emit(trace.Event{Kind: trace.KindThreadExited, Thread: id, ExitCode: exitCode})
}
