package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the prometheus instruments for the scheduling core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	jobsSubmitted prometheus.Counter
	jobsAdmitted  prometheus.Counter
	jobsCompleted prometheus.Counter
	jobsFailed    prometheus.Counter
	jobsTimedOut  prometheus.Counter

	downloadsCompleted prometheus.Counter
	downloadsFailed    prometheus.Counter
	downloadsExpired   prometheus.Counter
	downloadRetries    prometheus.Counter

	admittedSlots prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipforge_jobs_submitted_total",
			Help: "Jobs accepted into the dispatch queue.",
		}),
		jobsAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipforge_jobs_admitted_total",
			Help: "Jobs started on the generation provider.",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipforge_jobs_completed_total",
			Help: "Jobs that reached a completed terminal state.",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipforge_jobs_failed_total",
			Help: "Jobs that reached a failed terminal state.",
		}),
		jobsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipforge_jobs_timed_out_total",
			Help: "Jobs that exhausted the poll ceiling without a terminal provider state.",
		}),
		downloadsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipforge_downloads_completed_total",
			Help: "Download jobs that retrieved every asset.",
		}),
		downloadsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipforge_downloads_failed_total",
			Help: "Download jobs that exhausted their retries.",
		}),
		downloadsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipforge_downloads_expired_total",
			Help: "Download jobs that missed the provider retention window.",
		}),
		downloadRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipforge_download_retries_total",
			Help: "Download attempts rescheduled after a transient failure.",
		}),
		admittedSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clipforge_admitted_slots",
			Help: "Jobs currently occupying concurrency slots.",
		}),
	}

	m.registry.MustRegister(
		m.jobsSubmitted, m.jobsAdmitted, m.jobsCompleted, m.jobsFailed, m.jobsTimedOut,
		m.downloadsCompleted, m.downloadsFailed, m.downloadsExpired, m.downloadRetries,
		m.admittedSlots,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) JobSubmitted() {
	if m == nil {
		return
	}
	m.jobsSubmitted.Inc()
}

func (m *Metrics) JobAdmitted() {
	if m == nil {
		return
	}
	m.jobsAdmitted.Inc()
}

func (m *Metrics) JobCompleted() {
	if m == nil {
		return
	}
	m.jobsCompleted.Inc()
}

func (m *Metrics) JobFailed() {
	if m == nil {
		return
	}
	m.jobsFailed.Inc()
}

func (m *Metrics) JobTimedOut() {
	if m == nil {
		return
	}
	m.jobsTimedOut.Inc()
	m.jobsFailed.Inc()
}

func (m *Metrics) DownloadCompleted() {
	if m == nil {
		return
	}
	m.downloadsCompleted.Inc()
}

func (m *Metrics) DownloadFailed() {
	if m == nil {
		return
	}
	m.downloadsFailed.Inc()
}

func (m *Metrics) DownloadExpired() {
	if m == nil {
		return
	}
	m.downloadsExpired.Inc()
}

func (m *Metrics) DownloadRetried() {
	if m == nil {
		return
	}
	m.downloadRetries.Inc()
}

func (m *Metrics) SetAdmittedSlots(n int) {
	if m == nil {
		return
	}
	m.admittedSlots.Set(float64(n))
}
