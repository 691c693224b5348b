package download

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the optional Prometheus instrumentation for a
// Downloader, named after the teacher's own request/hit/byte-counter
// shape. A library must not register against the global default
// registerer on import (unlike the teacher, which is a standalone
// binary), so Metrics is constructed explicitly and registered by the
// caller via Collectors.
type Metrics struct {
	RequestsTotal   prometheus.Counter
	CoalescedTotal  prometheus.Counter
	FailuresTotal   *prometheus.CounterVec
	BytesReceived   prometheus.Counter
	InFlightJobs    prometheus.Gauge
}

// NewMetrics builds a fresh, unregistered Metrics set.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagefetch_download_requests_total",
			Help: "Total number of image download requests accepted.",
		}),
		CoalescedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagefetch_download_coalesced_total",
			Help: "Total number of requests that joined an in-flight download instead of starting a new one.",
		}),
		FailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagefetch_download_failures_total",
			Help: "Total number of download failures, labeled by cause.",
		}, []string{"cause"}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagefetch_download_bytes_received_total",
			Help: "Total bytes received across all downloads.",
		}),
		InFlightJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imagefetch_download_jobs_in_flight",
			Help: "Number of distinct URLs currently being downloaded.",
		}),
	}
}

// Collectors returns every metric for registration, e.g.
// registerer.MustRegister(m.Collectors()...).
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.RequestsTotal, m.CoalescedTotal, m.FailuresTotal, m.BytesReceived, m.InFlightJobs}
}
