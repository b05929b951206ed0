package logger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks counters, gauges and timings for one run.
//
// Counters track notification outcomes and anomalies. Gauges track how many
// games are in each status. Timings are histograms per run phase.
type Metrics struct {
	registry      *prometheus.Registry
	notifications *prometheus.CounterVec
	anomalies     *prometheus.CounterVec
	games         *prometheus.GaugeVec
	phases        *prometheus.HistogramVec
	lastSuccess   prometheus.Gauge
}

// NewMetrics creates a tracker with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "homegames_notifications_total",
			Help: "Notifications handled, by outcome and channel.",
		}, []string{"outcome", "channel"}),
		anomalies: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "homegames_anomalies_total",
			Help: "Data and configuration anomalies found during reconciliation.",
		}, []string{"kind"}),
		games: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "homegames_games",
			Help: "Tracked games by status.",
		}, []string{"status"}),
		phases: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "homegames_phase_duration_seconds",
			Help:    "Duration of each run phase.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"phase"}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "homegames_last_success_timestamp_seconds",
			Help: "Unix time of the last run that persisted its state.",
		}),
	}
}

// IncrNotification counts one notification outcome ("sent", "late",
// "skipped", "failed").
func (m *Metrics) IncrNotification(outcome, channel string) {
	m.notifications.WithLabelValues(outcome, channel).Inc()
}

// IncrAnomaly counts one anomaly of the given kind.
func (m *Metrics) IncrAnomaly(kind string) {
	m.anomalies.WithLabelValues(kind).Inc()
}

// SetGames sets the number of games in a status.
func (m *Metrics) SetGames(status string, n int) {
	m.games.WithLabelValues(status).Set(float64(n))
}

// RecordTiming records how long a phase took.
func (m *Metrics) RecordTiming(phase string, d time.Duration) {
	m.phases.WithLabelValues(phase).Observe(d.Seconds())
}

// MarkSuccess records the time of a successful, persisted run.
func (m *Metrics) MarkSuccess(t time.Time) {
	m.lastSuccess.Set(float64(t.Unix()))
}

// Registry exposes the registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics in the text exposition format, for the
// node-exporter textfile collector. The write is atomic.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
