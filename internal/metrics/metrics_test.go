package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestNewCollector(t *testing.T) {
	// Reset Prometheus registry to avoid duplicate registration
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector := NewCollector()

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.contextSwitches, "contextSwitches counter should be initialized")
	assert.NotNil(t, collector.ticks, "ticks counter should be initialized")
	assert.NotNil(t, collector.preemptions, "preemptions counter should be initialized")
	assert.NotNil(t, collector.tasksCreated, "tasksCreated counter should be initialized")
	assert.NotNil(t, collector.tasksTerminated, "tasksTerminated counter should be initialized")
	assert.NotNil(t, collector.threadsCreated, "threadsCreated counter should be initialized")
	assert.NotNil(t, collector.threadsExited, "threadsExited counter should be initialized")
	assert.NotNil(t, collector.dispatchWait, "dispatchWait histogram should be initialized")
	assert.NotNil(t, collector.tasksReady, "tasksReady gauge should be initialized")
	assert.NotNil(t, collector.tasksBlocked, "tasksBlocked gauge should be initialized")
	assert.NotNil(t, collector.threadsLive, "threadsLive gauge should be initialized")
}

func TestRecordContextSwitch(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	// Test different wait values
	waits := []uint64{0, 1, 5, 50, 200}

	for _, wait := range waits {
		assert.NotPanics(t, func() {
			collector.RecordContextSwitch(wait)
		}, "RecordContextSwitch should not panic with wait %d", wait)
	}
}

func TestRecordCounters(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			collector.RecordTick()
			collector.RecordPreemption()
			collector.RecordTaskCreated()
			collector.RecordTaskTerminated()
			collector.RecordThreadCreated()
			collector.RecordThreadExited()
		}
	})
}

func TestUpdateGauges(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	testCases := []struct {
		name    string
		ready   int
		blocked int
		live    int
	}{
		{"zero values", 0, 0, 0},
		{"small values", 2, 1, 3},
		{"large values", 1000, 500, 2000},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				collector.UpdateTaskGauges(tc.ready, tc.blocked)
				collector.UpdateThreadGauges(tc.live)
			})
		})
	}
}
