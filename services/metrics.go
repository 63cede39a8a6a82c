package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"listingwatch/models"
)

const metricsNamespace = "listingwatch"

// Metrics holds the Prometheus collectors updated by the pipeline.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	ItemsTotal       *prometheus.CounterVec
	ChangesTotal     *prometheus.CounterVec
	ImagesTotal      *prometheus.CounterVec
	NewListingsTotal prometheus.Counter
	RunDuration      prometheus.Histogram
	LastRunTimestamp prometheus.Gauge
}

// NewMetrics creates and registers the collectors on reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by result (completed, skipped)",
		}, []string{"result"}),
		ItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "items_total",
			Help:      "Listings processed by outcome",
		}, []string{"outcome"}),
		ChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "changes_total",
			Help:      "Detected change events by type",
		}, []string{"type"}),
		ImagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "images_total",
			Help:      "Listing images by archive result (reused, archived, failed)",
		}, []string{"result"}),
		NewListingsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "new_listings_total",
			Help:      "Listings seen for the first time",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of completed pipeline runs",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		LastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed run",
		}),
	}
}

// ObserveItem records the outcome of one processed listing.
func (m *Metrics) ObserveItem(res models.ItemResult) {
	m.ItemsTotal.WithLabelValues(string(res.Outcome)).Inc()
	if res.IsNew {
		m.NewListingsTotal.Inc()
	}
	for _, c := range res.Changes {
		m.ChangesTotal.WithLabelValues(string(c.ChangeType)).Inc()
	}
}

func (m *Metrics) ObserveImages(s ArchiveStats) {
	m.ImagesTotal.WithLabelValues("reused").Add(float64(s.Reused))
	m.ImagesTotal.WithLabelValues("archived").Add(float64(s.Archived))
	m.ImagesTotal.WithLabelValues("failed").Add(float64(s.Failed))
}

// ObserveRun records a finished run, or a skipped one.
func (m *Metrics) ObserveRun(report *models.RunReport) {
	if report.Skipped {
		m.RunsTotal.WithLabelValues("skipped").Inc()
		return
	}
	m.RunsTotal.WithLabelValues("completed").Inc()
	m.RunDuration.Observe(report.Duration().Seconds())
	finished := report.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	m.LastRunTimestamp.Set(float64(finished.Unix()))
}
