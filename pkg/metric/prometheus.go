package metric

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// prometheusRegistry lazily creates one collector per metric name. The label names of the first observation
// define the collector, later observations of the same metric must use the same label names.
type prometheusRegistry struct {
	namespace  string
	registerer prometheus.Registerer

	mutex      *sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

type prometheusMetrics struct {
	registry *prometheusRegistry
	labels   Labels
}

func NewPrometheusMetrics(namespace string, registerer prometheus.Registerer) Metrics {
	return prometheusMetrics{
		registry: &prometheusRegistry{
			namespace:  namespace,
			registerer: registerer,
			mutex:      &sync.Mutex{},
			counters:   make(map[string]*prometheus.CounterVec),
			gauges:     make(map[string]*prometheus.GaugeVec),
			histograms: make(map[string]*prometheus.HistogramVec),
		},
		labels: nil,
	}
}

func (m prometheusMetrics) With(labels Labels) Metrics {
	merged := make(Labels, len(m.labels)+len(labels))
	for k, v := range m.labels {
		merged[k] = v
	}
	for k, v := range labels {
		merged[k] = v
	}

	return prometheusMetrics{registry: m.registry, labels: merged}
}

func (m prometheusMetrics) WithLabel(name string, value any) Metrics {
	return m.With(Labels{name: value})
}

func (m prometheusMetrics) Increment(name string) {
	m.Count(name, 1)
}

func (m prometheusMetrics) Count(name string, n int) {
	names, values := m.labelPairs()
	counter, err := m.registry.counter(name, names)
	if err != nil {
		return
	}

	counter.WithLabelValues(values...).Add(float64(n))
}

func (m prometheusMetrics) Gauge(name string, n int) {
	names, values := m.labelPairs()
	gauge, err := m.registry.gauge(name, names)
	if err != nil {
		return
	}

	gauge.WithLabelValues(values...).Set(float64(n))
}

func (m prometheusMetrics) Duration(name string, duration time.Duration) {
	names, values := m.labelPairs()
	histogram, err := m.registry.histogram(name, names)
	if err != nil {
		return
	}

	histogram.WithLabelValues(values...).Observe(duration.Seconds())
}

func (m prometheusMetrics) labelPairs() (names, values []string) {
	names = make([]string, 0, len(m.labels))
	for name := range m.labels {
		names = append(names, name)
	}
	sort.Strings(names)

	values = make([]string, 0, len(names))
	for _, name := range names {
		values = append(values, fmt.Sprintf("%v", m.labels[name]))
	}

	return names, values
}

func (r *prometheusRegistry) counter(name string, labelNames []string) (*prometheus.CounterVec, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if c, ok := r.counters[name]; ok {
		return c, nil
	}

	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      name,
		Help:      name,
	}, labelNames)
	if err := r.registerer.Register(c); err != nil {
		return nil, fmt.Errorf("register counter %s: %w", name, err)
	}

	r.counters[name] = c
	return c, nil
}

func (r *prometheusRegistry) gauge(name string, labelNames []string) (*prometheus.GaugeVec, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if g, ok := r.gauges[name]; ok {
		return g, nil
	}

	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Name:      name,
		Help:      name,
	}, labelNames)
	if err := r.registerer.Register(g); err != nil {
		return nil, fmt.Errorf("register gauge %s: %w", name, err)
	}

	r.gauges[name] = g
	return g, nil
}

func (r *prometheusRegistry) histogram(name string, labelNames []string) (*prometheus.HistogramVec, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if h, ok := r.histograms[name]; ok {
		return h, nil
	}

	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      name,
		Help:      name,
		Buckets:   prometheus.DefBuckets,
	}, labelNames)
	if err := r.registerer.Register(h); err != nil {
		return nil, fmt.Errorf("register histogram %s: %w", name, err)
	}

	r.histograms[name] = h
	return h, nil
}
