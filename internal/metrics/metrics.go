// ============================================================================
// Metrics
// Responsibilities: collect and expose Prometheus metrics for the kernel
// core (scheduler dispatch activity, preemption, thread lifecycle).
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates the kernel's Prometheus metrics.
type Collector struct {
	// Scheduler activity
	contextSwitches prometheus.Counter
	ticks           prometheus.Counter
	preemptions     prometheus.Counter
	tasksCreated    prometheus.Counter
	tasksTerminated prometheus.Counter

	// Thread lifecycle
	threadsCreated prometheus.Counter
	threadsExited  prometheus.Counter

	// Dispatch latency: how many ticks a task waited on a ready queue
	// before being dispatched.
	dispatchWait prometheus.Histogram

	// Instantaneous state
	tasksReady   prometheus.Gauge
	tasksBlocked prometheus.Gauge
	threadsLive  prometheus.Gauge
}

// NewCollector creates and registers the kernel metric set.
func NewCollector() *Collector {
	c := &Collector{
		contextSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_context_switches_total",
			Help: "Total number of context switches performed by the scheduler",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_ticks_total",
			Help: "Total number of timer ticks observed",
		}),
		preemptions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_preemptions_total",
			Help: "Total number of time-slice expirations that forced a reschedule",
		}),
		tasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_tasks_created_total",
			Help: "Total number of tasks created",
		}),
		tasksTerminated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_tasks_terminated_total",
			Help: "Total number of tasks terminated",
		}),
		threadsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_threads_created_total",
			Help: "Total number of threads created",
		}),
		threadsExited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_threads_exited_total",
			Help: "Total number of threads that exited",
		}),
		dispatchWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kernel_dispatch_wait_ticks",
			Help:    "Ticks a task spent on a ready queue before dispatch",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		tasksReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kernel_tasks_ready",
			Help: "Current number of tasks on the ready queues",
		}),
		tasksBlocked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kernel_tasks_blocked",
			Help: "Current number of blocked tasks",
		}),
		threadsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kernel_threads_live",
			Help: "Current number of live threads",
		}),
	}

	prometheus.MustRegister(c.contextSwitches)
	prometheus.MustRegister(c.ticks)
	prometheus.MustRegister(c.preemptions)
	prometheus.MustRegister(c.tasksCreated)
	prometheus.MustRegister(c.tasksTerminated)
	prometheus.MustRegister(c.threadsCreated)
	prometheus.MustRegister(c.threadsExited)
	prometheus.MustRegister(c.dispatchWait)
	prometheus.MustRegister(c.tasksReady)
	prometheus.MustRegister(c.tasksBlocked)
	prometheus.MustRegister(c.threadsLive)

	return c
}

// RecordContextSwitch records one dispatch and the ticks the task waited.
func (c *Collector) RecordContextSwitch(waitTicks uint64) {
	c.contextSwitches.Inc()
	c.dispatchWait.Observe(float64(waitTicks))
}

// RecordTick records one timer tick.
func (c *Collector) RecordTick() {
	c.ticks.Inc()
}

// RecordPreemption records one time-slice expiration.
func (c *Collector) RecordPreemption() {
	c.preemptions.Inc()
}

// RecordTaskCreated records one task creation.
func (c *Collector) RecordTaskCreated() {
	c.tasksCreated.Inc()
}

// RecordTaskTerminated records one task termination.
func (c *Collector) RecordTaskTerminated() {
	c.tasksTerminated.Inc()
}

// RecordThreadCreated records one thread creation.
func (c *Collector) RecordThreadCreated() {
	c.threadsCreated.Inc()
}

// RecordThreadExited records one thread exit.
func (c *Collector) RecordThreadExited() {
	c.threadsExited.Inc()
}

// UpdateTaskGauges refreshes the instantaneous task-state gauges.
func (c *Collector) UpdateTaskGauges(ready, blocked int) {
	c.tasksReady.Set(float64(ready))
	c.tasksBlocked.Set(float64(blocked))
}

// UpdateThreadGauges refreshes the instantaneous thread-state gauges.
func (c *Collector) UpdateThreadGauges(live int) {
	c.threadsLive.Set(float64(live))
}

// StartServer exposes /metrics on the given port. Blocks; run it in its own
// goroutine.
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}
