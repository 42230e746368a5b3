// Package metrics defines the Prometheus metric collectors used across the
// pipeline and exposes an HTTP server for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	CatalogPagesFetched prometheus.Counter
	LinksHarvested      prometheus.Counter
	ArchivesProcessed   *prometheus.CounterVec
	ArchiveFailures     *prometheus.CounterVec
	ArchiveDuration     prometheus.Histogram
	BytesDownloaded     prometheus.Counter
	MessagesDelivered   prometheus.Counter
	MessagesFailed      prometheus.Counter
}

// New creates all pipeline metrics and registers them with reg. Production
// code passes prometheus.DefaultRegisterer; tests pass a fresh registry so
// repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CatalogPagesFetched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_pages_fetched_total",
				Help: "Total catalog pages fetched during link harvesting.",
			},
		),
		LinksHarvested: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "archive_links_harvested_total",
				Help: "Total archive links matched across all catalog pages.",
			},
		),
		ArchivesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archives_processed_total",
				Help: "Archives processed by outcome (success, failure).",
			},
			[]string{"status"},
		),
		ArchiveFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_failures_total",
				Help: "Archive failures by reason.",
			},
			[]string{"reason"},
		),
		ArchiveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archive_process_duration_seconds",
				Help:    "Wall time spent on one archive from download through flush.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		BytesDownloaded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "archive_bytes_downloaded_total",
				Help: "Total bytes downloaded across all archives.",
			},
		),
		MessagesDelivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kafka_messages_delivered_total",
				Help: "Messages acknowledged by the broker.",
			},
		),
		MessagesFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kafka_messages_failed_total",
				Help: "Messages whose delivery failed after producer retries.",
			},
		),
	}

	reg.MustRegister(
		m.CatalogPagesFetched,
		m.LinksHarvested,
		m.ArchivesProcessed,
		m.ArchiveFailures,
		m.ArchiveDuration,
		m.BytesDownloaded,
		m.MessagesDelivered,
		m.MessagesFailed,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for the default
// registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
