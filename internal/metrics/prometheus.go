package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the dubbing studio.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Job metrics
	JobsStarted  *prometheus.CounterVec
	JobsFinished *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	ActiveJobs   prometheus.Gauge

	// Compositor metrics
	SegmentsMerged  prometheus.Counter
	SegmentsDropped *prometheus.CounterVec
	SegmentsTrimmed prometheus.Counter

	// Recombiner metrics
	FramesRecorded   prometheus.Counter
	DriftCorrections prometheus.Counter
	RecordingSize    prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_jobs_started_total",
			Help: "Total number of jobs started",
		}, []string{"kind"}),
		JobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_jobs_finished_total",
			Help: "Total number of jobs finished, by outcome",
		}, []string{"kind", "status"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studio_job_duration_seconds",
			Help:    "Wall time of finished jobs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}, []string{"kind"}),
		ActiveJobs: f.NewGauge(prometheus.GaugeOpts{
			Name: "studio_active_jobs",
			Help: "Current number of running jobs",
		}),

		SegmentsMerged: f.NewCounter(prometheus.CounterOpts{
			Name: "studio_segments_merged_total",
			Help: "Total number of segments placed on a rendered track",
		}),
		SegmentsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_segments_dropped_total",
			Help: "Total number of segments dropped, by reason",
		}, []string{"reason"}),
		SegmentsTrimmed: f.NewCounter(prometheus.CounterOpts{
			Name: "studio_segments_truncated_total",
			Help: "Total number of segments cut short at their slot end",
		}),

		FramesRecorded: f.NewCounter(prometheus.CounterOpts{
			Name: "studio_frames_recorded_total",
			Help: "Total number of video frames written to recorders",
		}),
		DriftCorrections: f.NewCounter(prometheus.CounterOpts{
			Name: "studio_drift_corrections_total",
			Help: "Total number of audio seeks issued to follow the video clock",
		}),
		RecordingSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "studio_recording_size_bytes",
			Help:    "Size of finished recordings",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 12), // 64KB to ~128MB
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studio_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RecordJobStarted counts a started job.
func (m *Metrics) RecordJobStarted(kind string) {
	if m == nil {
		return
	}
	m.JobsStarted.WithLabelValues(kind).Inc()
	m.ActiveJobs.Inc()
}

// RecordJobFinished counts a finished job and its wall time.
func (m *Metrics) RecordJobFinished(kind, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(kind, status).Inc()
	m.JobDuration.WithLabelValues(kind).Observe(durationSeconds)
	m.ActiveJobs.Dec()
}

// RecordSegmentMerged counts a placed segment.
func (m *Metrics) RecordSegmentMerged(truncated bool) {
	if m == nil {
		return
	}
	m.SegmentsMerged.Inc()
	if truncated {
		m.SegmentsTrimmed.Inc()
	}
}

// RecordSegmentDropped counts a segment left out of a render.
func (m *Metrics) RecordSegmentDropped(reason string) {
	if m == nil {
		return
	}
	m.SegmentsDropped.WithLabelValues(reason).Inc()
}

// RecordFrame counts one recorded video frame.
func (m *Metrics) RecordFrame() {
	if m == nil {
		return
	}
	m.FramesRecorded.Inc()
}

// RecordDriftCorrection counts one audio seek.
func (m *Metrics) RecordDriftCorrection() {
	if m == nil {
		return
	}
	m.DriftCorrections.Inc()
}

// RecordRecording observes the size of a finished recording.
func (m *Metrics) RecordRecording(sizeBytes int) {
	if m == nil {
		return
	}
	m.RecordingSize.Observe(float64(sizeBytes))
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}
