// Package metrics exposes refresh and display telemetry to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/airq-visualizer/backend/internal/models"
	"github.com/airq-visualizer/backend/internal/quality"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var buckets = []string{
	quality.BucketOffline,
	quality.BucketUnknown,
	string(quality.LevelGood),
	string(quality.LevelModerate),
	string(quality.LevelPoor),
}

// Metrics implements refresh.Recorder over a private registry.
type Metrics struct {
	registry *prometheus.Registry

	refreshTotal    *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	refreshErrors   *prometheus.CounterVec
	refreshStale    *prometheus.CounterVec
	refreshSkipped  *prometheus.CounterVec
	sensors         *prometheus.GaugeVec
	display         *prometheus.GaugeVec
	wsClients       *prometheus.GaugeVec

	classifier *quality.Classifier
}

// New creates and registers all collectors. The classifier is used to count
// sensors per display bucket on every applied snapshot.
func New(classifier *quality.Classifier) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airq_refresh_total",
			Help: "Refresh attempts applied, by view and outcome.",
		}, []string{"view", "outcome"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "airq_refresh_duration_seconds",
			Help:    "Histogram of snapshot fetch durations by view.",
			Buckets: prometheus.DefBuckets,
		}, []string{"view"}),
		refreshErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airq_refresh_errors_total",
			Help: "Refresh and render errors by view and kind.",
		}, []string{"view", "kind"}),
		refreshStale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airq_refresh_stale_total",
			Help: "Late fetch results discarded because a newer one was applied.",
		}, []string{"view"}),
		refreshSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airq_refresh_skipped_total",
			Help: "Ticks skipped because a fetch was still in flight.",
		}, []string{"view"}),
		sensors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "airq_snapshot_sensors",
			Help: "Number of sensors in the last applied snapshot.",
		}, []string{"view"}),
		display: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "airq_sensor_display",
			Help: "Sensors per display bucket in the last applied snapshot.",
		}, []string{"view", "bucket"}),
		wsClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "airq_ws_clients",
			Help: "Connected websocket clients by view.",
		}, []string{"view"}),
		classifier: classifier,
	}

	m.registry.MustRegister(
		m.refreshTotal,
		m.refreshDuration,
		m.refreshErrors,
		m.refreshStale,
		m.refreshSkipped,
		m.sensors,
		m.display,
		m.wsClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRefresh(view, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(view, outcome).Inc()
	m.refreshDuration.WithLabelValues(view).Observe(d.Seconds())
}

func (m *Metrics) RefreshError(view, kind string) {
	if m == nil {
		return
	}
	m.refreshErrors.WithLabelValues(view, kind).Inc()
}

func (m *Metrics) RefreshStale(view string) {
	if m == nil {
		return
	}
	m.refreshStale.WithLabelValues(view).Inc()
}

func (m *Metrics) RefreshSkipped(view string) {
	if m == nil {
		return
	}
	m.refreshSkipped.WithLabelValues(view).Inc()
}

// SnapshotApplied updates the sensor gauges for a view.
func (m *Metrics) SnapshotApplied(view string, snap *models.SensorSnapshot) {
	if m == nil || snap == nil {
		return
	}
	m.sensors.WithLabelValues(view).Set(float64(snap.Len()))

	counts := make(map[string]int, len(buckets))
	labels := quality.LabelsFor("en")
	for _, s := range snap.Sensors {
		_, d := quality.DescribeSensor(m.classifier, labels, s)
		counts[d.Bucket]++
	}
	for _, b := range buckets {
		m.display.WithLabelValues(view, b).Set(float64(counts[b]))
	}
}

// SetWSClients records the number of connected websocket clients.
func (m *Metrics) SetWSClients(view string, n int) {
	if m == nil {
		return
	}
	m.wsClients.WithLabelValues(view).Set(float64(n))
}
