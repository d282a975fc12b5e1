package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for generations, documents and
// rendering. All methods are safe on a nil receiver.
type Metrics struct {
	attempts    *prometheus.CounterVec
	retries     *prometheus.CounterVec
	generations *prometheus.CounterVec
	genDuration *prometheus.HistogramVec
	documents   *prometheus.CounterVec
	renderCache *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the instance registered with the global registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew registers the collectors with reg and panics on any registration
// error other than an identical collector already being present.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mdpress", Subsystem: "generate",
			Name: "upstream_attempts_total",
			Help: "Upstream workflow attempts by result.",
		}, []string{"result"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mdpress", Subsystem: "generate",
			Name: "retries_total",
			Help: "Retries scheduled after a failed attempt, by failure class.",
		}, []string{"reason"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mdpress", Subsystem: "generate",
			Name: "generations_total",
			Help: "Finished article generations by content source and status.",
		}, []string{"source", "status"}),
		genDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mdpress", Subsystem: "generate",
			Name:    "duration_seconds",
			Help:    "Wall time of article generations.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		}, []string{"source"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mdpress", Subsystem: "documents",
			Name: "operations_total",
			Help: "Document store operations by kind and result.",
		}, []string{"op", "result"}),
		renderCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mdpress", Subsystem: "render",
			Name: "cache_lookups_total",
			Help: "Rendered page cache lookups by result.",
		}, []string{"result"}),
	}

	for _, c := range []**prometheus.CounterVec{&m.attempts, &m.retries, &m.generations, &m.documents, &m.renderCache} {
		*c = register(reg, *c)
	}
	m.genDuration = register(reg, m.genDuration)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Attempt records the result of one upstream attempt.
func (m *Metrics) Attempt(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

// Retry records a scheduled retry.
func (m *Metrics) Retry(reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(reason).Inc()
}

// Generation records a finished generation.
func (m *Metrics) Generation(source, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(source, status).Inc()
	m.genDuration.WithLabelValues(source).Observe(d.Seconds())
}

// Document records a document store operation.
func (m *Metrics) Document(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.documents.WithLabelValues(op, result).Inc()
}

// CacheLookup records a render cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.renderCache.WithLabelValues(result).Inc()
}
