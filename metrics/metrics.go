// Package metrics exposes patchfield statistics as Prometheus collectors.
//
// A Metrics value is an engine.Recorder for the render plane, provides an
// observer for graph events, and can watch a graph for module and connection
// counts. All collectors live in a private registry served by Handler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/opd-ai/patchfield"
	"github.com/opd-ai/patchfield/limits"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "patchfield"

// GraphSource is the view the graph gauges read at scrape time.
type GraphSource interface {
	Snapshot() (patchfield.Snapshot, bool)
}

// Metrics holds the collectors of one patchfield instance.
type Metrics struct {
	registry *prometheus.Registry

	cycles  prometheus.Histogram
	events  *prometheus.CounterVec
	skipped [limits.MaxModules]prometheus.Counter
	late    [limits.MaxModules]prometheus.Counter
	evicted [limits.MaxModules]prometheus.Counter

	observer *patchfield.EventObserver
}

// New creates the collectors and registers them, together with the Go runtime
// and process collectors, in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_cycle_seconds",
			Help:      "Wall time of one render cycle.",
			Buckets:   prometheus.ExponentialBuckets(50e-6, 2, 12),
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_events_total",
			Help:      "Graph events broadcast to observers, by kind.",
		}, []string{"kind"}),
	}
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "skipped_modules_total",
		Help:      "Render cycles an active module sat out because its runner was not ready.",
	}, []string{"slot"})
	late := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "late_modules_total",
		Help:      "Render cycles in which a module missed its deadline.",
	}, []string{"slot"})
	evicted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watchdog_evictions_total",
		Help:      "Runners evicted by their watchdog.",
	}, []string{"slot"})

	// Resolve every slot's counter now so the render path never allocates.
	for i := 0; i < limits.MaxModules; i++ {
		label := strconv.Itoa(i)
		m.skipped[i] = skipped.WithLabelValues(label)
		m.late[i] = late.WithLabelValues(label)
		m.evicted[i] = evicted.WithLabelValues(label)
	}

	m.registry.MustRegister(
		m.cycles, m.events, skipped, late, evicted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.observer = patchfield.NewEventObserver(func(e patchfield.Event) error {
		m.events.WithLabelValues(string(e.Kind)).Inc()
		return nil
	})
	return m
}

// ObserveCycle implements engine.Recorder.
func (m *Metrics) ObserveCycle(d time.Duration) {
	m.cycles.Observe(d.Seconds())
}

// SkippedModule implements engine.Recorder.
func (m *Metrics) SkippedModule(slot int) {
	if slot >= 0 && slot < limits.MaxModules {
		m.skipped[slot].Inc()
	}
}

// LateModule implements engine.Recorder.
func (m *Metrics) LateModule(slot int) {
	if slot >= 0 && slot < limits.MaxModules {
		m.late[slot].Inc()
	}
}

// EvictedModule implements engine.Recorder.
func (m *Metrics) EvictedModule(slot int) {
	if slot >= 0 && slot < limits.MaxModules {
		m.evicted[slot].Inc()
	}
}

// Observer returns the observer counting graph events. Register it with the
// service to populate graph_events_total.
func (m *Metrics) Observer() patchfield.Observer {
	return m.observer
}

// WatchGraph registers gauges reading module count, connection count and
// transport state from src at scrape time.
func (m *Metrics) WatchGraph(src GraphSource) error {
	read := func(f func(patchfield.Snapshot) float64) func() float64 {
		return func() float64 {
			s, ok := src.Snapshot()
			if !ok {
				return 0
			}
			return f(s)
		}
	}
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "modules",
			Help:      "Registered modules, system modules included.",
		}, read(func(s patchfield.Snapshot) float64 { return float64(len(s.Modules)) })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Port connections in the graph.",
		}, read(func(s patchfield.Snapshot) float64 { return float64(len(s.Edges)) })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "1 while the transport runs.",
		}, read(func(s patchfield.Snapshot) float64 {
			if s.Running {
				return 1
			}
			return 0
		})),
	}
	for _, g := range gauges {
		if err := m.registry.Register(g); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
