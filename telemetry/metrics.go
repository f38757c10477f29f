package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes search progress as Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	generation   prometheus.Gauge
	bestFitness  prometheus.Gauge
	meanFitness  prometheus.Gauge
	geneSpread   prometheus.Gauge
	evaluations  prometheus.Counter
	bookmarks    *prometheus.CounterVec
	genDuration  prometheus.Histogram
	lastEvalSeen int64
}

// NewMetrics creates the metric set on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fedkf_generation",
			Help: "Last completed generation",
		}),
		bestFitness: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fedkf_best_fitness",
			Help: "Fitness of the best candidate in the population",
		}),
		meanFitness: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fedkf_mean_fitness",
			Help: "Mean fitness of the population",
		}),
		geneSpread: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fedkf_gene_spread",
			Help: "Mean per-gene standard deviation of the population",
		}),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fedkf_evaluations_total",
			Help: "Fitness evaluations performed",
		}),
		bookmarks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedkf_bookmarks_total",
				Help: "Bookmarks raised during the run",
			},
			[]string{"type"},
		),
		genDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fedkf_generation_duration_seconds",
			Help:    "Wall time of one generation",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
	m.registry.MustRegister(m.generation, m.bestFitness, m.meanFitness, m.geneSpread,
		m.evaluations, m.bookmarks, m.genDuration)
	return m
}

// Observe records one generation.
func (m *Metrics) Observe(s GenerationStats) {
	if m == nil {
		return
	}
	m.generation.Set(float64(s.Generation))
	m.bestFitness.Set(s.BestFitness)
	m.meanFitness.Set(s.MeanFitness)
	m.geneSpread.Set(s.GeneSpread)
	if d := s.Evaluations - m.lastEvalSeen; d > 0 {
		m.evaluations.Add(float64(d))
		m.lastEvalSeen = s.Evaluations
	}
	if s.DurationUS > 0 {
		m.genDuration.Observe(float64(s.DurationUS) / 1e6)
	}
}

// ObserveBookmark counts a bookmark.
func (m *Metrics) ObserveBookmark(b Bookmark) {
	if m == nil {
		return
	}
	m.bookmarks.WithLabelValues(string(b.Type)).Inc()
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
