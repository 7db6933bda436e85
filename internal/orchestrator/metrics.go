package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report orchestrator activity.
type Metrics struct {
	tasksRegistered prometheus.Counter
	tasksActive     prometheus.Gauge
	taskDuration    *prometheus.HistogramVec
	taskFailures    *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. The collectors are created only once to
// avoid duplicate registration panics when the orchestrator is instantiated
// multiple times (e.g. in unit tests).
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// The caller is responsible for supplying a fresh registry when unique metric
// names are required (for example in tests). Any registration error will
// panic, which mirrors the semantics of promauto helpers.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	tasksRegistered := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "maestro",
		Subsystem: "orchestrator",
		Name:      "tasks_registered_total",
		Help:      "Total number of tasks accepted from the planner.",
	})
	tasksActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "maestro",
		Subsystem: "orchestrator",
		Name:      "tasks_active",
		Help:      "Number of tasks currently in the running state.",
	})
	taskDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "maestro",
			Subsystem: "orchestrator",
			Name:      "task_duration_seconds",
			Help:      "Time from task start to terminal state.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool", "status"},
	)
	taskFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maestro",
			Subsystem: "orchestrator",
			Name:      "task_failures_total",
			Help:      "Total number of failed tasks by failure kind.",
		},
		[]string{"tool", "kind"},
	)

	collectors := []prometheus.Collector{tasksRegistered, tasksActive, taskDuration, taskFailures}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch target := collector.(type) {
				case *prometheus.HistogramVec:
					taskDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case *prometheus.CounterVec:
					taskFailures = already.ExistingCollector.(*prometheus.CounterVec)
				case prometheus.Gauge:
					tasksActive = already.ExistingCollector.(prometheus.Gauge)
				case prometheus.Counter:
					tasksRegistered = already.ExistingCollector.(prometheus.Counter)
				default:
					_ = target
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		tasksRegistered: tasksRegistered,
		tasksActive:     tasksActive,
		taskDuration:    taskDuration,
		taskFailures:    taskFailures,
	}
}

// IncRegistered counts n newly registered tasks.
func (m *Metrics) IncRegistered(n int) {
	if m == nil || m.tasksRegistered == nil {
		return
	}
	m.tasksRegistered.Add(float64(n))
}

// IncActive tracks a task entering the running state.
func (m *Metrics) IncActive() {
	if m == nil || m.tasksActive == nil {
		return
	}
	m.tasksActive.Inc()
}

// DecActive tracks a running task reaching a terminal state.
func (m *Metrics) DecActive() {
	if m == nil || m.tasksActive == nil {
		return
	}
	m.tasksActive.Dec()
}

// ObserveDuration records the run time of a task with its terminal status.
func (m *Metrics) ObserveDuration(tool string, status string, duration time.Duration) {
	if m == nil || m.taskDuration == nil {
		return
	}
	m.taskDuration.WithLabelValues(tool, status).Observe(duration.Seconds())
}

// IncFailure increments the failure counter for the given tool and kind.
func (m *Metrics) IncFailure(tool string, kind string) {
	if m == nil || m.taskFailures == nil {
		return
	}
	m.taskFailures.WithLabelValues(tool, kind).Inc()
}
