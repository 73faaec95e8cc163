// Package metrics implements the in-memory counters/gauges/duration-sample
// registry, upgraded from the teacher's hand-rolled Prometheus text writer
// (internal/observability/metrics.go) to a real
// github.com/prometheus/client_golang registry, while also exposing the
// spec's exact {counters, gauges, durations} snapshot shape for the
// orchestrator's periodic metrics logger.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DurationSummary is the spec's {count, min, max, avg, total} shape.
type DurationSummary struct {
	Count int64         `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
	Total time.Duration `json:"total"`
}

// Snapshot is the spec's MetricSnapshot shape.
type Snapshot struct {
	Counters  map[string]int64             `json:"counters"`
	Gauges    map[string]float64           `json:"gauges"`
	Durations map[string]DurationSummary   `json:"durations"`
}

// Registry is the orchestrator's metrics registry: an open map of named
// counters and gauges, plus per-name unbounded duration sample lists reset
// on each Snapshot-triggered cadence.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	counterVal map[string]int64
	gauges     map[string]*prometheus.GaugeVec
	gaugeVal   map[string]float64
	durations  map[string][]time.Duration
	histograms map[string]prometheus.Histogram
	registry   *prometheus.Registry
}

// New constructs an empty Registry backed by its own prometheus.Registry
// (not the global default, so multiple orchestrator runs in one process
// never collide on metric names).
func New() *Registry {
	return &Registry{
		counters:   make(map[string]*prometheus.CounterVec),
		counterVal: make(map[string]int64),
		gauges:     make(map[string]*prometheus.GaugeVec),
		gaugeVal:   make(map[string]float64),
		durations:  make(map[string][]time.Duration),
		histograms: make(map[string]prometheus.Histogram),
		registry:   prometheus.NewRegistry(),
	}
}

// IncrCounter increments a named counter by delta (lazily registering it).
func (r *Registry) IncrCounter(name string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cv, ok := r.counters[name]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{Name: sanitizeMetricName(name)}, nil)
		r.registry.MustRegister(cv)
		r.counters[name] = cv
	}
	cv.WithLabelValues().Add(float64(delta))
	r.counterVal[name] += delta
}

// SetGauge sets a named gauge to value (lazily registering it).
func (r *Registry) SetGauge(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	gv, ok := r.gauges[name]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: sanitizeMetricName(name)}, nil)
		r.registry.MustRegister(gv)
		r.gauges[name] = gv
	}
	gv.WithLabelValues().Set(value)
	r.gaugeVal[name] = value
}

// RecordDuration appends a sample to a named duration series and observes
// it into a backing prometheus.Histogram.
func (r *Registry) RecordDuration(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.histograms[name]
	if !ok {
		h = prometheus.NewHistogram(prometheus.HistogramOpts{Name: sanitizeMetricName(name) + "_seconds"})
		r.registry.MustRegister(h)
		r.histograms[name] = h
	}
	h.Observe(d.Seconds())
	r.durations[name] = append(r.durations[name], d)
}

// Snapshot returns the current counters, gauges, and duration summaries.
// Duration sample lists are NOT reset here; call Reset explicitly on the
// orchestrator's periodic cadence, matching the spec's "bounded in practice
// by reset cadence" wording.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Counters:  make(map[string]int64, len(r.counterVal)),
		Gauges:    make(map[string]float64, len(r.gaugeVal)),
		Durations: make(map[string]DurationSummary, len(r.durations)),
	}
	for k, v := range r.counterVal {
		snap.Counters[k] = v
	}
	for k, v := range r.gaugeVal {
		snap.Gauges[k] = v
	}
	for k, samples := range r.durations {
		snap.Durations[k] = summarize(samples)
	}
	return snap
}

// Reset clears duration sample lists (counters and gauges are not reset:
// counters are additive for the run's lifetime and gauges are last-write-wins).
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations = make(map[string][]time.Duration)
}

func summarize(samples []time.Duration) DurationSummary {
	if len(samples) == 0 {
		return DurationSummary{}
	}
	s := DurationSummary{Min: samples[0], Max: samples[0]}
	for _, d := range samples {
		s.Count++
		s.Total += d
		if d < s.Min {
			s.Min = d
		}
		if d > s.Max {
			s.Max = d
		}
	}
	s.Avg = s.Total / time.Duration(s.Count)
	return s
}

// Handler returns the promhttp handler exposing this registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func sanitizeMetricName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "unnamed"
	}
	return "crawlforge_" + string(out)
}
