package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apkforge_builds_total",
			Help: "Total number of finished builds by result.",
		},
		[]string{"result"},
	)

	metricBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "apkforge_build_duration_seconds",
			Help:    "Wall time of builds from configuring to a terminal state.",
			Buckets: []float64{15, 30, 60, 120, 300, 600, 1200, 1800},
		},
	)

	metricBuildActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "apkforge_build_active",
			Help: "1 while a build subprocess owns the build slot.",
		},
	)

	metricQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "apkforge_batch_queue_depth",
			Help: "Batch items waiting for the build slot.",
		},
	)

	metricFilesCleaned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "apkforge_cleanup_files_removed_total",
			Help: "Files removed by the cleanup scheduler.",
		},
	)

	metricHTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apkforge_http_requests_total",
			Help: "Total number of requests received.",
		},
		[]string{"route", "method"},
	)

	metricHTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apkforge_http_request_duration_seconds",
			Help:    "Latency of requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		metricBuilds, metricBuildDuration, metricBuildActive,
		metricQueueDepth, metricFilesCleaned,
		metricHTTPRequests, metricHTTPLatency,
	)
}

func BuildStarted() {
	metricBuildActive.Set(1)
}

func BuildFinished(success bool, d time.Duration) {
	result := "failed"
	if success {
		result = "succeeded"
	}
	metricBuilds.WithLabelValues(result).Inc()
	metricBuildDuration.Observe(d.Seconds())
	metricBuildActive.Set(0)
}

func QueueDepth(n int) {
	metricQueueDepth.Set(float64(n))
}

func FileCleaned() {
	metricFilesCleaned.Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		metricHTTPRequests.WithLabelValues(route, r.Method).Inc()
		metricHTTPLatency.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
