package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/platform/httpserver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the collectors exposed on /metrics.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metadeploy",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "metadeploy",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"service", "method", "path"},
	)

	tasksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metadeploy",
			Subsystem: "worker",
			Name:      "tasks_total",
			Help:      "Preflight and job tasks processed by the worker.",
		},
		[]string{"kind", "status"},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "metadeploy",
			Subsystem: "worker",
			Name:      "task_duration_seconds",
			Help:      "Duration of worker tasks.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"kind"},
	)

	jobsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "metadeploy",
			Subsystem: "jobs",
			Name:      "created_total",
			Help:      "Jobs accepted by the API.",
		},
	)

	jobsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metadeploy",
			Subsystem: "jobs",
			Name:      "rejected_total",
			Help:      "Job creation requests rejected by validation.",
		},
		[]string{"reason"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		tasksProcessed,
		taskDuration,
		jobsCreated,
		jobsRejected,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Instrument records request counts and latency for every path except /metrics.
func Instrument(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		sw := httpserver.NewStatusWriter(w)
		start := time.Now()

		next.ServeHTTP(sw, r)

		path := CanonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(service, method, path, strconv.Itoa(sw.Status)).Inc()
		httpDuration.WithLabelValues(service, method, path).Observe(time.Since(start).Seconds())
	})
}

func RecordTask(kind string, status string, duration time.Duration) {
	tasksProcessed.WithLabelValues(kind, status).Inc()
	taskDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func RecordJobCreated() {
	jobsCreated.Inc()
}

func RecordJobRejected(reason string) {
	jobsRejected.WithLabelValues(reason).Inc()
}

// CanonicalPath replaces identifier segments with ":id" to bound label cardinality.
func CanonicalPath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if looksLikeID(part) {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

func looksLikeID(segment string) bool {
	if len(segment) == 36 && strings.Count(segment, "-") == 4 {
		return true
	}
	if segment == "" {
		return false
	}
	for _, r := range segment {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
