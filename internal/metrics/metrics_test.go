package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector := NewCollector()

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.tasksCreated, "tasksCreated counter should be initialized")
	assert.NotNil(t, collector.tasksCompleted, "tasksCompleted counter should be initialized")
	assert.NotNil(t, collector.tasksFailed, "tasksFailed counter should be initialized")
	assert.NotNil(t, collector.tasksCancelled, "tasksCancelled counter should be initialized")
	assert.NotNil(t, collector.dispatchErrors, "dispatchErrors counter should be initialized")
	assert.NotNil(t, collector.reclaimTotal, "reclaimTotal counter should be initialized")
	assert.NotNil(t, collector.taskLatency, "taskLatency histogram should be initialized")
	assert.NotNil(t, collector.tasksPending, "tasksPending gauge should be initialized")
	assert.NotNil(t, collector.tasksProcessing, "tasksProcessing gauge should be initialized")
}

func TestRecordCreated(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			collector.RecordCreated()
		}
	})
}

func TestRecordCompleted(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	for _, latency := range []float64{0.001, 0.01, 0.1, 1.0, 5.0} {
		assert.NotPanics(t, func() {
			collector.RecordCompleted(latency)
		}, "RecordCompleted should not panic with latency %f", latency)
	}
}

func TestRecordFailed(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		for i := 0; i < 3; i++ {
			collector.RecordFailed()
		}
	})
}

func TestRecordCancelled(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordCancelled()
	})
}

func TestRecordDispatchErrorAndReclaim(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordDispatchError()
		collector.RecordReclaim()
	})
}

func TestUpdateQueueStats(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	testCases := []struct {
		name       string
		pending    int64
		processing int64
	}{
		{"zero values", 0, 0},
		{"normal values", 10, 5},
		{"high pending", 100, 8},
		{"equal values", 20, 20},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				collector.UpdateQueueStats(tc.pending, tc.processing)
			})
		})
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	done := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		go func() {
			collector.RecordCreated()
			collector.RecordCompleted(0.1)
			collector.UpdateQueueStats(10, 5)
			done <- true
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}
}

func TestCollectorIsolation(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector1 := NewCollector()
	require.NotNil(t, collector1)

	// A second collector reuses the same metric names and should panic on
	// duplicate registration; a process only ever creates one collector.
	assert.Panics(t, func() {
		NewCollector()
	})
}

func TestTaskLifecycleSequence(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordCreated()
		collector.UpdateQueueStats(1, 0)

		collector.UpdateQueueStats(0, 1)

		collector.RecordCompleted(0.5)
		collector.UpdateQueueStats(0, 0)
	})
}

func TestTaskFailureSequence(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordCreated()
		collector.RecordFailed()
	})
}
