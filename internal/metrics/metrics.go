// Package metrics exposes Prometheus collectors for ffmpeg invocations,
// jobs and HTTP requests.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// FFmpeg/ffprobe process metrics
	ProcessRunsTotal *prometheus.CounterVec
	ProcessDuration  *prometheus.HistogramVec

	// Concatenation metrics
	ConcatSkippedInputs prometheus.Counter
	ConcatMismatches    prometheus.Counter

	// Job metrics
	JobsTotal    *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	ActiveJobs   prometheus.Gauge
	JobsFinished *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates all collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ProcessRunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ffmpeg_process_runs_total",
				Help: "Total number of ffmpeg process runs by operation and outcome",
			},
			[]string{"operation", "status"},
		),
		ProcessDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ffmpeg_process_duration_seconds",
				Help:    "Wall time of ffmpeg process runs in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"operation"},
		),
		ConcatSkippedInputs: f.NewCounter(
			prometheus.CounterOpts{
				Name: "concat_skipped_inputs_total",
				Help: "Concatenation inputs skipped because probing failed",
			},
		),
		ConcatMismatches: f.NewCounter(
			prometheus.CounterOpts{
				Name: "concat_mismatched_inputs_total",
				Help: "Concatenation inputs whose properties differ from the key video",
			},
		),
		JobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobs_total",
				Help: "Total number of jobs created",
			},
			[]string{"kind"},
		),
		JobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "job_duration_seconds",
				Help:    "Job processing duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"kind", "status"},
		),
		ActiveJobs: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_jobs",
				Help: "Number of jobs currently running",
			},
		),
		JobsFinished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobs_finished_total",
				Help: "Total number of jobs that reached a terminal state",
			},
			[]string{"kind", "status"},
		),
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// ObserveProcess records one ffmpeg run.
func (m *Metrics) ObserveProcess(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ProcessRunsTotal.WithLabelValues(operation, status).Inc()
	m.ProcessDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordConcatPlan records the advisory outcome of a concatenation plan.
func (m *Metrics) RecordConcatPlan(skipped, mismatched int) {
	if m == nil {
		return
	}
	m.ConcatSkippedInputs.Add(float64(skipped))
	m.ConcatMismatches.Add(float64(mismatched))
}

// JobCreated records a new job.
func (m *Metrics) JobCreated(kind string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(kind).Inc()
}

// JobStarted marks a job as running.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.ActiveJobs.Inc()
}

// JobFinished marks a running job as done with the given terminal status.
func (m *Metrics) JobFinished(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveJobs.Dec()
	m.JobsFinished.WithLabelValues(kind, status).Inc()
	m.JobDuration.WithLabelValues(kind, status).Observe(d.Seconds())
}

// RecordHTTPRequest records one HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
