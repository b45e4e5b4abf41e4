// Package metrics exposes synchronizer activity to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeongseonghan/scsync/internal/schmidlcox"
)

// Metrics holds the collectors for one synchronizer run. Each instance owns
// its registry.
type Metrics struct {
	registry *prometheus.Registry

	samples    prometheus.Counter
	chunks     prometheus.Counter
	detections prometheus.Counter
	threshold  prometheus.Gauge
	phase      prometheus.Gauge     // phi-hat of the last detection, radians
	offset     prometheus.Gauge     // last detection in subcarrier spacings
	peakMetric prometheus.Histogram // timing metric at each accepted plateau peak
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		samples: f.NewCounter(prometheus.CounterOpts{
			Name: "scsync_samples_total",
			Help: "Input samples processed by the synchronizer",
		}),
		chunks: f.NewCounter(prometheus.CounterOpts{
			Name: "scsync_chunks_total",
			Help: "Chunks passed to the synchronizer",
		}),
		detections: f.NewCounter(prometheus.CounterOpts{
			Name: "scsync_detections_total",
			Help: "Preambles detected",
		}),
		threshold: f.NewGauge(prometheus.GaugeOpts{
			Name: "scsync_threshold",
			Help: "Current plateau detection threshold",
		}),
		phase: f.NewGauge(prometheus.GaugeOpts{
			Name: "scsync_last_phase_radians",
			Help: "Half-symbol phase rotation of the last detection",
		}),
		offset: f.NewGauge(prometheus.GaugeOpts{
			Name: "scsync_last_offset_subcarriers",
			Help: "Fine frequency offset of the last detection in subcarrier spacings",
		}),
		peakMetric: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "scsync_peak_metric",
			Help:    "Timing metric at accepted plateau peaks",
			Buckets: []float64{0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 0.98, 0.99, 1},
		}),
	}
}

// ObserveChunk records one processed chunk of n samples.
func (m *Metrics) ObserveChunk(n int) {
	m.chunks.Inc()
	m.samples.Add(float64(n))
}

// ObserveDetection records one detection.
func (m *Metrics) ObserveDetection(d schmidlcox.Detection) {
	m.detections.Inc()
	m.phase.Set(d.Phase)
	m.offset.Set(schmidlcox.SubcarrierOffset(d.Phase))
	m.peakMetric.Observe(d.Metric)
}

// SetThreshold records the threshold currently in force.
func (m *Metrics) SetThreshold(t float64) { m.threshold.Set(t) }

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
