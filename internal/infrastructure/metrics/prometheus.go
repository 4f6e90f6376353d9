// Package metrics exports run outcomes as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/ports"
)

const namespace = "pageharvester"

// Metrics holds all harvester Prometheus metrics.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	CandidatesTotal  *prometheus.CounterVec
	RecordsInserted  *prometheus.CounterVec
	AttachmentsTotal *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	LastRunTimestamp *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

var _ ports.Recorder = (*Metrics)(nil)

// New registers the metrics on reg; a nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished source runs by terminal state.",
		}, []string{"source", "state"}),
		CandidatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Listed candidates by outcome.",
		}, []string{"source", "outcome"}),
		RecordsInserted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_inserted_total",
			Help:      "Rows actually inserted by batch flushes.",
		}, []string{"source"}),
		AttachmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachments_total",
			Help:      "Attachment downloads by result.",
		}, []string{"source", "result"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of source runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"source"}),
		LastRunTimestamp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last finished run per source.",
		}, []string{"source"}),
		gatherer: reg,
	}
}

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(s domain.RunSummary) {
	m.RunsTotal.WithLabelValues(s.Source, string(s.State)).Inc()

	outcomes := map[string]int{
		"skipped_old":       s.SkippedOld,
		"skipped_duplicate": s.SkippedDuplicate,
		"ingested_full":     s.IngestedFull,
		"ingested_degraded": s.IngestedDegraded,
	}
	for outcome, n := range outcomes {
		if n > 0 {
			m.CandidatesTotal.WithLabelValues(s.Source, outcome).Add(float64(n))
		}
	}

	m.RecordsInserted.WithLabelValues(s.Source).Add(float64(s.Inserted))
	m.AttachmentsTotal.WithLabelValues(s.Source, "saved").Add(float64(s.AttachmentsSaved))
	m.AttachmentsTotal.WithLabelValues(s.Source, "failed").Add(float64(s.AttachmentsFailed))

	if d := s.Duration(); d > 0 {
		m.RunDuration.WithLabelValues(s.Source).Observe(d.Seconds())
	}
	if !s.FinishedAt.IsZero() {
		m.LastRunTimestamp.WithLabelValues(s.Source).Set(float64(s.FinishedAt.Unix()))
	}
}

// Handler returns the HTTP handler serving these metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
