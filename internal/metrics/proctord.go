package metrics

import (
	"time"
)

// ProctorMetrics holds all proctord-specific metrics.
type ProctorMetrics struct {
	// Counters
	CameraFramesTotal *Counter
	AudioFramesTotal  *Counter
	DOMEventsTotal    *Counter
	CandidatesTotal   *Counter
	ViolationsTotal   *Counter
	FlagPostsTotal    *Counter
	FlagFailuresTotal *Counter
	SubmissionsTotal  *Counter
	ErrorsTotal       *Counter

	// Gauges
	ActiveSessions   *Gauge
	SecondsRemaining *Gauge
	ViolationTally   *Gauge
	UptimeSeconds    *Gauge

	// Histograms
	DetectDuration   *Histogram
	FlagPostDuration *Histogram
	SubmitDuration   *Histogram
}

// startTime records when metrics were initialized.
var startTime = time.Now()

// NewProctorMetrics creates and registers all proctord metrics.
func NewProctorMetrics(registry *Registry) *ProctorMetrics {
	if registry == nil {
		registry = Default()
	}

	m := &ProctorMetrics{
		// Counters
		CameraFramesTotal: registry.RegisterCounter(
			"camera_frames_total",
			"Total number of camera frames sampled",
			nil,
		),
		AudioFramesTotal: registry.RegisterCounter(
			"audio_frames_total",
			"Total number of microphone frames sampled",
			nil,
		),
		DOMEventsTotal: registry.RegisterCounter(
			"dom_events_total",
			"Total number of browser events delivered",
			nil,
		),
		CandidatesTotal: registry.RegisterCounter(
			"candidates_total",
			"Total number of raw detections before debouncing",
			nil,
		),
		ViolationsTotal: registry.RegisterCounter(
			"violations_total",
			"Total number of confirmed violations",
			nil,
		),
		FlagPostsTotal: registry.RegisterCounter(
			"flag_posts_total",
			"Total number of flag posts attempted",
			nil,
		),
		FlagFailuresTotal: registry.RegisterCounter(
			"flag_failures_total",
			"Total number of flag posts that failed",
			nil,
		),
		SubmissionsTotal: registry.RegisterCounter(
			"submissions_total",
			"Total number of exam submissions delivered",
			nil,
		),
		ErrorsTotal: registry.RegisterCounter(
			"errors_total",
			"Total number of errors",
			nil,
		),

		// Gauges
		ActiveSessions: registry.RegisterGauge(
			"active_sessions",
			"Number of currently active exam sessions",
			nil,
		),
		SecondsRemaining: registry.RegisterGauge(
			"seconds_remaining",
			"Seconds remaining in the active exam session",
			nil,
		),
		ViolationTally: registry.RegisterGauge(
			"violation_tally",
			"Confirmed violation count for the active session",
			nil,
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds",
			"Number of seconds the daemon has been running",
			nil,
		),

		// Histograms
		DetectDuration: registry.RegisterHistogram(
			"detect_duration_seconds",
			"Duration of per-frame detection in seconds",
			nil,
			DefaultBuckets,
		),
		FlagPostDuration: registry.RegisterHistogram(
			"flag_post_duration_seconds",
			"Duration of flag post requests in seconds",
			nil,
			DurationBuckets,
		),
		SubmitDuration: registry.RegisterHistogram(
			"submit_duration_seconds",
			"Duration of submission delivery in seconds",
			nil,
			DurationBuckets,
		),
	}

	return m
}

// RecordFrame records one sampled frame for the given modality name.
func (m *ProctorMetrics) RecordFrame(modality string) {
	switch modality {
	case "camera":
		m.CameraFramesTotal.Inc()
	case "audio":
		m.AudioFramesTotal.Inc()
	case "dom":
		m.DOMEventsTotal.Inc()
	}
}

// RecordCandidate records a raw detection.
func (m *ProctorMetrics) RecordCandidate() {
	m.CandidatesTotal.Inc()
}

// RecordViolation records a confirmed violation.
func (m *ProctorMetrics) RecordViolation() {
	m.ViolationsTotal.Inc()
}

// RecordFlagPost records one flag post attempt.
func (m *ProctorMetrics) RecordFlagPost(duration time.Duration, success bool) {
	m.FlagPostsTotal.Inc()
	m.FlagPostDuration.ObserveDuration(duration)
	if !success {
		m.FlagFailuresTotal.Inc()
	}
}

// RecordSubmission records a submission delivery.
func (m *ProctorMetrics) RecordSubmission(duration time.Duration, success bool) {
	m.SubmissionsTotal.Inc()
	m.SubmitDuration.ObserveDuration(duration)
	if !success {
		m.ErrorsTotal.Inc()
	}
}

// StartDetectTimer returns a timer for per-frame detection.
func (m *ProctorMetrics) StartDetectTimer() *HistogramTimer {
	return m.DetectDuration.Timer()
}

// RecordError records an error.
func (m *ProctorMetrics) RecordError() {
	m.ErrorsTotal.Inc()
}

// SessionStarted records a session start.
func (m *ProctorMetrics) SessionStarted() {
	m.ActiveSessions.Inc()
}

// SessionEnded records a session end.
func (m *ProctorMetrics) SessionEnded() {
	m.ActiveSessions.Dec()
	m.SecondsRemaining.Set(0)
}

// SetSecondsRemaining sets the remaining-time gauge.
func (m *ProctorMetrics) SetSecondsRemaining(sec int64) {
	m.SecondsRemaining.Set(sec)
}

// SetViolationTally sets the confirmed violation count gauge.
func (m *ProctorMetrics) SetViolationTally(n int64) {
	m.ViolationTally.Set(n)
}

// UpdateUptime updates the uptime metric.
func (m *ProctorMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(startTime).Seconds()))
}

