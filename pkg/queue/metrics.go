package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for the processed counter.
const (
	StatusSuccess        = "success"
	StatusFailure        = "failure"
	StatusWaitTimeout    = "wait_timeout"
	StatusProcessTimeout = "process_timeout"
)

// Metrics holds the Prometheus collectors shared by every queue of a
// process. Each queue reports under its own "queue" label.
type Metrics struct {
	// active tracks tasks currently occupying a channel.
	active *prometheus.GaugeVec

	// waiting tracks the size of the waiting set.
	waiting *prometheus.GaugeVec

	// processed counts finished tasks by outcome.
	// Labels:
	//   - queue: queue name
	//   - status: "success", "failure", "wait_timeout" or "process_timeout"
	processed *prometheus.CounterVec

	// waitLatency is the time between add and the task reaching a channel.
	waitLatency *prometheus.HistogramVec

	// processDuration is the time between handler start and done.
	processDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "taskpipe_active_tasks",
			Help: "Number of tasks occupying a channel",
		}, []string{"queue"}),
		waiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "taskpipe_waiting_tasks",
			Help: "Number of tasks waiting for a channel",
		}, []string{"queue"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskpipe_processed_total",
			Help: "The total number of finished tasks",
		}, []string{"queue", "status"}),
		waitLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskpipe_wait_seconds",
			Help:    "Time spent waiting before processing",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
		processDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskpipe_process_seconds",
			Help:    "Duration of task processing",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
	}
	if reg != nil {
		reg.MustRegister(m.active, m.waiting, m.processed, m.waitLatency, m.processDuration)
	}
	return m
}

// The methods below are no-ops on a nil receiver so queues without metrics
// need no checks.

func (m *Metrics) setOccupancy(queue string, active, waiting int) {
	if m == nil {
		return
	}
	m.active.WithLabelValues(queue).Set(float64(active))
	m.waiting.WithLabelValues(queue).Set(float64(waiting))
}

func (m *Metrics) observeStart(queue string, waited time.Duration) {
	if m == nil {
		return
	}
	m.waitLatency.WithLabelValues(queue).Observe(waited.Seconds())
}

func (m *Metrics) observeFinish(queue, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(queue, status).Inc()
	if status != StatusWaitTimeout {
		m.processDuration.WithLabelValues(queue).Observe(took.Seconds())
	}
}
