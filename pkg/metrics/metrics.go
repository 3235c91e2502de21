// Package metrics exposes Prometheus instrumentation and health reporting
// for the control plane.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// State gauges, refreshed by the Collector
	ResourcesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drover_resources_total",
			Help: "Total number of enrolled resources by availability",
		},
		[]string{"available"},
	)

	ProcessesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drover_processes_total",
			Help: "Total number of processes",
		},
	)

	SessionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drover_sessions_total",
			Help: "Total number of sessions by status",
		},
		[]string{"status"},
	)

	WorkItemsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drover_workitems_total",
			Help: "Total number of work items by status",
		},
		[]string{"status"},
	)

	TriggersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drover_triggers_total",
			Help: "Total number of triggers by type",
		},
		[]string{"type"},
	)

	// Scheduler metrics
	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drover_scheduler_tick_duration_seconds",
			Help:    "Duration of one scheduler pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TickErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_scheduler_tick_errors_total",
			Help: "Total number of failed scheduler passes",
		},
	)

	SessionsDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_sessions_dispatched_total",
			Help: "Total number of sessions paired with a resource",
		},
	)

	SessionsOrphaned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_sessions_orphaned_total",
			Help: "Total number of sessions failed because their resource went away",
		},
	)

	TriggersFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_triggers_fired_total",
			Help: "Total number of trigger firings by type",
		},
		[]string{"type"},
	)

	// Work-item hand-off metrics
	WorkItemsClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_workitems_claimed_total",
			Help: "Total number of work items dispensed to sessions",
		},
	)

	ClaimConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_workitem_claim_conflicts_total",
			Help: "Total number of claim attempts that lost a race and retried",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drover_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(ResourcesTotal)
	prometheus.MustRegister(ProcessesTotal)
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(WorkItemsTotal)
	prometheus.MustRegister(TriggersTotal)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(TickErrors)
	prometheus.MustRegister(SessionsDispatched)
	prometheus.MustRegister(SessionsOrphaned)
	prometheus.MustRegister(TriggersFired)
	prometheus.MustRegister(WorkItemsClaimed)
	prometheus.MustRegister(ClaimConflicts)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in the histogram
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Duration().Seconds())
}
