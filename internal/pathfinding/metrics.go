package pathfinding

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы поиска для метки outcome
const (
	OutcomeFound     = "found"
	OutcomeNoPath    = "no_path"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeInvalid   = "invalid"
)

// Metrics — Prometheus-метрики поиска пути.
//
// Метрики:
// * pathfinding_searches_total{outcome} — counter
// * pathfinding_search_duration_seconds{outcome} — histogram
// * pathfinding_expanded_cells — histogram раскрытых ячеек на поиск
type Metrics struct {
	searches *prometheus.CounterVec
	duration *prometheus.HistogramVec
	expanded prometheus.Histogram
}

// NewMetrics создаёт метрики и регистрирует их в reg.
// Если reg == nil, используется глобальный регистр.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pathfinding",
			Name:      "searches_total",
			Help:      "Общее число поисков пути по исходу.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pathfinding",
			Name:      "search_duration_seconds",
			Help:      "Длительность поиска пути.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"outcome"}),
		expanded: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pathfinding",
			Name:      "expanded_cells",
			Help:      "Количество раскрытых ячеек за один поиск.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}

	reg.MustRegister(m.searches, m.duration, m.expanded)
	return m
}

func (m *Metrics) observe(outcome string, elapsed time.Duration, expanded int) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	m.expanded.Observe(float64(expanded))
}
