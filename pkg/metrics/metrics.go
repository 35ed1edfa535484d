// Package metrics provides the Prometheus sink for per-scope query aggregates.
//
// The sink accepts anything exposing the three aggregate reads of a closed
// query counter and fans them out into labelled counters and histograms.
// It has no knowledge of how the aggregates were collected.
package metrics

import (
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric registered by this package.
const Namespace = "query_metrics"

// Registry is the default Prometheus registerer, used by the demo server.
var Registry = prometheus.DefaultRegisterer

// Aggregates is the read side of a closed query counter.
type Aggregates interface {
	TotalQueryCountByAlias() map[string]int
	TotalDurationSecondsByAlias() map[string]float64
	TotalDuplicateCountByAlias() map[string]int
}

// ViewLabels identifies one handled HTTP request.
type ViewLabels struct {
	Method string
	View   string
	Status string
}

// TaskLabels identifies one task execution.
type TaskLabels struct {
	Task  string
	Queue string
	State string
}

// Task states.
const (
	TaskStateSuccess = "SUCCESS"
	TaskStateFailure = "FAILURE"
)

// Collector owns the registered query metrics.
type Collector struct {
	registerer prometheus.Registerer

	viewRequests            *prometheus.CounterVec
	viewQueryCount          *prometheus.CounterVec
	viewQueryDuration       *prometheus.HistogramVec
	viewDuplicateQueryCount *prometheus.CounterVec

	tasksExecuted           *prometheus.CounterVec
	taskExecutionDuration   *prometheus.HistogramVec
	taskLastExecution       *prometheus.GaugeVec
	taskQueryCount          *prometheus.CounterVec
	taskQueryDuration       *prometheus.HistogramVec
	taskDuplicateQueryCount *prometheus.CounterVec
}

var queryDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// NewCollector registers all query metrics with reg.
// It panics if any of them is already registered.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	viewLabels := []string{"db", "method", "view", "status"}
	taskLabels := []string{"db", "task", "queue", "state"}
	taskRunLabels := []string{"task", "queue", "state"}

	return &Collector{
		registerer: reg,

		viewRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "view",
			Name:      "query_requests_total",
			Help:      "Number of requests observed by the query count middleware.",
		}, []string{"method", "view", "status"}),

		viewQueryCount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "view",
			Name:      "query_count_total",
			Help:      "Number of database queries executed by views.",
		}, viewLabels),

		viewQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "view",
			Name:      "query_duration_seconds",
			Help:      "Total database query duration per request, by view.",
			Buckets:   queryDurationBuckets,
		}, viewLabels),

		viewDuplicateQueryCount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "view",
			Name:      "duplicate_query_count_total",
			Help:      "Number of duplicate database queries executed by views.",
		}, viewLabels),

		tasksExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "task",
			Name:      "executed_total",
			Help:      "Tasks executed, by name, queue and state.",
		}, taskRunLabels),

		taskExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "task",
			Name:      "execution_duration_seconds",
			Help:      "Time spent executing the task.",
			Buckets:   prometheus.DefBuckets,
		}, taskRunLabels),

		taskLastExecution: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "task",
			Name:      "last_execution_timestamp_seconds",
			Help:      "Unix time of the last execution of the task.",
		}, taskRunLabels),

		taskQueryCount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "task",
			Name:      "query_count_total",
			Help:      "Number of database queries executed by tasks.",
		}, taskLabels),

		taskQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "task",
			Name:      "query_duration_seconds",
			Help:      "Total database query duration per task execution.",
			Buckets:   queryDurationBuckets,
		}, taskLabels),

		taskDuplicateQueryCount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "task",
			Name:      "duplicate_query_count_total",
			Help:      "Number of duplicate database queries executed by tasks.",
		}, taskLabels),
	}
}

// ObserveView records one handled request and its per-alias query totals.
func (c *Collector) ObserveView(l ViewLabels, agg Aggregates) {
	c.viewRequests.WithLabelValues(l.Method, l.View, l.Status).Inc()

	for db, seconds := range agg.TotalDurationSecondsByAlias() {
		c.viewQueryDuration.WithLabelValues(db, l.Method, l.View, l.Status).Observe(seconds)
	}
	for db, n := range agg.TotalQueryCountByAlias() {
		c.viewQueryCount.WithLabelValues(db, l.Method, l.View, l.Status).Add(float64(n))
	}
}

// ObserveViewDuplicates records per-alias duplicate query counts for a request.
func (c *Collector) ObserveViewDuplicates(l ViewLabels, agg Aggregates) {
	for db, n := range agg.TotalDuplicateCountByAlias() {
		c.viewDuplicateQueryCount.WithLabelValues(db, l.Method, l.View, l.Status).Add(float64(n))
	}
}

// ObserveTask records one task execution, its duration, the time it ran
// and its query totals.
func (c *Collector) ObserveTask(l TaskLabels, seconds float64, agg Aggregates) {
	c.tasksExecuted.WithLabelValues(l.Task, l.Queue, l.State).Inc()
	c.taskExecutionDuration.WithLabelValues(l.Task, l.Queue, l.State).Observe(seconds)
	c.taskLastExecution.WithLabelValues(l.Task, l.Queue, l.State).SetToCurrentTime()

	for db, s := range agg.TotalDurationSecondsByAlias() {
		c.taskQueryDuration.WithLabelValues(db, l.Task, l.Queue, l.State).Observe(s)
	}
	for db, n := range agg.TotalQueryCountByAlias() {
		c.taskQueryCount.WithLabelValues(db, l.Task, l.Queue, l.State).Add(float64(n))
	}
}

// ObserveTaskDuplicates records per-alias duplicate query counts for a task.
func (c *Collector) ObserveTaskDuplicates(l TaskLabels, agg Aggregates) {
	for db, n := range agg.TotalDuplicateCountByAlias() {
		c.taskDuplicateQueryCount.WithLabelValues(db, l.Task, l.Queue, l.State).Add(float64(n))
	}
}

// ExposeApplicationInfo publishes an info-style gauge carrying version and
// any extra labels, for lookups in dashboards.
// Returns an error if the info metric was already exposed.
func (c *Collector) ExposeApplicationInfo(version string, extra map[string]string) error {
	labels := prometheus.Labels{"version": version}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "version" {
			return fmt.Errorf("extra label %q collides with version", k)
		}
		labels[k] = extra[k]
	}

	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   Namespace,
		Subsystem:   "generics_info",
		Name:        "application_info",
		Help:        "Information about the running target.",
		ConstLabels: labels,
	})
	if err := c.registerer.Register(info); err != nil {
		return fmt.Errorf("register application info: %w", err)
	}
	info.Set(1)

	return nil
}

// Metrics Documentation
//
// View Metrics (labels db, method, view, status):
//   - query_metrics_view_query_requests_total (Counter, no db label): Requests observed
//   - query_metrics_view_query_count_total (Counter): Queries executed per view
//   - query_metrics_view_query_duration_seconds (Histogram): Query time per request
//   - query_metrics_view_duplicate_query_count_total (Counter): Duplicate queries per view
//
// Task Metrics (labels db, task, queue, state):
//   - query_metrics_task_executed_total (Counter, no db label): Task executions
//   - query_metrics_task_execution_duration_seconds (Histogram, no db label): Task run time
//   - query_metrics_task_last_execution_timestamp_seconds (Gauge, no db label): Last run time
//   - query_metrics_task_query_count_total (Counter): Queries executed per task
//   - query_metrics_task_query_duration_seconds (Histogram): Query time per execution
//   - query_metrics_task_duplicate_query_count_total (Counter): Duplicate queries per task
//
// Example Prometheus Queries:
//
//   # Average queries per request by view
//   sum by (view) (rate(query_metrics_view_query_count_total[5m])) /
//   sum by (view) (rate(query_metrics_view_query_requests_total[5m]))
//
//   # Views issuing duplicate queries
//   topk(10, sum by (view) (rate(query_metrics_view_duplicate_query_count_total[5m])))
