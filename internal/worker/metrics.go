package worker

import (
	"net/http"
	"strconv"

	"github.com/dunamismax/pixelfit/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	stepOutputsTotal     *prometheus.CounterVec
	optimizerProbesTotal prometheus.Counter
	webhookFailures      *prometheus.CounterVec
	pixelsProcessedTotal prometheus.Counter
	bytesSavedTotal      prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
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
		jobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelfit_worker_jobs_total",
			Help: "Total worker jobs by source type and final status.",
		}, []string{"source_type", "status"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelfit_worker_job_duration_seconds",
			Help:    "Total processing duration for each worker job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_type", "status"}),
		activeJobs: f.NewGauge(prometheus.GaugeOpts{
			Name: "pixelfit_worker_active_jobs",
			Help: "Current number of active processing jobs in the worker.",
		}),
		stepOutputsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelfit_worker_step_outputs_total",
			Help: "Step outputs written by the worker, by format and whether the size target was met.",
		}, []string{"format", "target_met"}),
		optimizerProbesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "pixelfit_worker_optimizer_probes_total",
			Help: "Encode passes spent across all step outputs.",
		}),
		webhookFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelfit_worker_webhook_failures_total",
			Help: "Webhook deliveries that failed after all attempts.",
		}, []string{"event"}),
		pixelsProcessedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "pixelfit_usage_pixels_processed_total",
			Help: "Total pixels processed across all successful jobs.",
		}),
		bytesSavedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "pixelfit_usage_bytes_saved_total",
			Help: "Total bytes saved across all successful jobs.",
		}),
		computeTimeMSTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "pixelfit_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful jobs.",
		}),
	}
}

func (m *metrics) observeOutputs(outputs []domain.StepOutput) {
	for _, output := range outputs {
		m.stepOutputsTotal.WithLabelValues(output.Format, strconv.FormatBool(output.TargetMet)).Inc()
		m.optimizerProbesTotal.Add(float64(output.Probes))
	}
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
