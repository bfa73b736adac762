package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelfit/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	transformTotal    *prometheus.CounterVec
	optimizerProbes   *prometheus.HistogramVec
	bytesSaved        *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(registry)
	return &metrics{
		registry: registry,
		requestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelfit_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelfit_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelfit_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		queueEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelfit_queue_jobs_enqueued_total",
			Help: "Total jobs enqueued to the processing queue.",
		}, []string{"queue"}),
		transformTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelfit_api_transforms_total",
			Help: "Synchronous transforms by endpoint, output format and outcome.",
		}, []string{"endpoint", "format", "outcome"}),
		optimizerProbes: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelfit_api_optimizer_probes",
			Help:    "Encode passes used by size-targeted transforms.",
			Buckets: prometheus.LinearBuckets(1, 1, 9),
		}, []string{"format"}),
		bytesSaved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelfit_api_bytes_saved_total",
			Help: "Bytes saved by synchronous transforms.",
		}, []string{"format"}),
	}
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeTransform(endpoint string, result pipeline.EncodeResult) {
	format := result.Format.Extension()
	outcome := "ok"
	if !result.TargetMet {
		outcome = "target_missed"
	}
	m.transformTotal.WithLabelValues(endpoint, format, outcome).Inc()
	m.bytesSaved.WithLabelValues(format).Add(float64(result.SavedBytes))
	if result.Probes > 1 {
		m.optimizerProbes.WithLabelValues(format).Observe(float64(result.Probes))
	}
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

// routeLabel collapses job ids so label cardinality stays bounded.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/jobs/") && strings.HasSuffix(path, "/start"):
		return "/v1/jobs/{id}/start"
	case strings.HasPrefix(path, "/v1/jobs/"):
		return "/v1/jobs/{id}"
	case strings.HasPrefix(path, "/v1/jobs"):
		return "/v1/jobs"
	case path == "/api/process" || path == "/api/convert":
		return path
	case strings.HasPrefix(path, "/healthz"):
		return "/healthz"
	case strings.HasPrefix(path, "/metrics"):
		return "/metrics"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
