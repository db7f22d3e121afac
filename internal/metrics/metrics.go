// Package metrics exposes the poller's Prometheus instrumentation,
// grounded on ManuGH-xg2g's internal/api/metrics.go: package-level
// promauto collectors plus small Record* wrapper functions so callers
// never touch prometheus types directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reapergt_poller_tick_duration_seconds",
		Help:    "Duration of a full scheduler tick, in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2.0, 12), // 0.1s .. ~205s
	})

	tickCoursesProcessed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reapergt_poller_tick_courses_processed",
		Help: "Number of CRNs fetched during the last scheduler tick.",
	})

	tickErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reapergt_poller_tick_errors_total",
		Help: "Total tick-level failures, by recovery outcome.",
	}, []string{"outcome"})

	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reapergt_poller_fetch_total",
		Help: "Total registrar fetch attempts, by outcome.",
	}, []string{"outcome"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reapergt_poller_fetch_duration_seconds",
		Help:    "Duration of a single registrar fetch, in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reapergt_poller_transitions_total",
		Help: "Total state transitions detected, by kind.",
	}, []string{"kind"})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reapergt_poller_notifications_total",
		Help: "Total notification delivery attempts, by channel and outcome.",
	}, []string{"channel", "outcome"})

	trackedCRNs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reapergt_poller_tracked_crns",
		Help: "Number of CRNs currently tracked by at least one user.",
	})

	lastTickTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reapergt_poller_last_tick_timestamp",
		Help: "Unix timestamp of the last completed scheduler tick.",
	})

	processRSSBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reapergt_poller_process_rss_bytes",
		Help: "Resident set size of the poller process, as sampled by the watchdog.",
	})

	processCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reapergt_poller_process_cpu_percent",
		Help: "CPU usage percent of the poller process, as sampled by the watchdog.",
	})
)

// RecordTick observes a completed tick's duration and the number of
// CRNs it processed.
func RecordTick(duration time.Duration, coursesProcessed int) {
	tickDuration.Observe(duration.Seconds())
	tickCoursesProcessed.Set(float64(coursesProcessed))
	lastTickTimestamp.Set(float64(time.Now().Unix()))
}

// RecordTickError records a recovered tick-level panic or error.
// outcome is "recovered" or "aborted".
func RecordTickError(outcome string) {
	tickErrorsTotal.WithLabelValues(outcome).Inc()
}

// RecordFetch observes a registrar fetch's duration and outcome.
// outcome is one of "ok", "transport", "http_status", "not_found".
func RecordFetch(duration time.Duration, outcome string) {
	fetchDuration.Observe(duration.Seconds())
	fetchTotal.WithLabelValues(outcome).Inc()
}

// RecordTransition counts a detected transition by its kind; the scheduler
// passes transition.Kind values (UNCHANGED, OPENED, CLOSED, METADATA,
// FAILED).
func RecordTransition(kind string) {
	transitionsTotal.WithLabelValues(kind).Inc()
}

// RecordNotification counts a notification delivery attempt.
// channel is "sms" or "push"; outcome is "sent", "failed", or "skipped".
func RecordNotification(channel, outcome string) {
	notificationsTotal.WithLabelValues(channel, outcome).Inc()
}

// SetTrackedCRNs updates the gauge of currently-tracked CRNs.
func SetTrackedCRNs(n int) {
	trackedCRNs.Set(float64(n))
}

// RecordProcessSample updates the self-process resource gauges sampled by
// the watchdog.
func RecordProcessSample(rssBytes uint64, cpuPercent float64) {
	processRSSBytes.Set(float64(rssBytes))
	processCPUPercent.Set(cpuPercent)
}
