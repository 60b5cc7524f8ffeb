// Package metrics wraps a dedicated prometheus registry behind a small
// label-map API. Families are created lazily on first use; a family keeps
// the label-key set of its first observation.
package metrics

import (
	"bytes"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

type state struct {
	mu        sync.Mutex
	reg       *prometheus.Registry
	counters  map[string]*prometheus.CounterVec
	gauges    map[string]*prometheus.GaugeVec
	summaries map[string]*prometheus.SummaryVec
}

var s = newState()

func newState() *state {
	return &state{
		reg:       prometheus.NewRegistry(),
		counters:  make(map[string]*prometheus.CounterVec),
		gauges:    make(map[string]*prometheus.GaugeVec),
		summaries: make(map[string]*prometheus.SummaryVec),
	}
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Registry exposes the underlying registry for the monitoring listener.
func Registry() *prometheus.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg
}

// Reset drops all families. Tests use it to start from a clean registry.
func Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := newState()
	s.reg, s.counters, s.gauges, s.summaries = ns.reg, ns.counters, ns.gauges, ns.summaries
}

// Inc increments the counter identified by name and labels.
func Inc(name string, labels map[string]string) {
	s.mu.Lock()
	c, ok := s.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, labelKeys(labels))
		s.reg.MustRegister(c)
		s.counters[name] = c
	}
	s.mu.Unlock()
	c.With(prometheus.Labels(labels)).Inc()
}

func gauge(name string, labels map[string]string) prometheus.Gauge {
	s.mu.Lock()
	g, ok := s.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, labelKeys(labels))
		s.reg.MustRegister(g)
		s.gauges[name] = g
	}
	s.mu.Unlock()
	return g.With(prometheus.Labels(labels))
}

// AddGauge adds v to the gauge identified by name and labels.
func AddGauge(name string, labels map[string]string, v float64) { gauge(name, labels).Add(v) }

// SetGauge sets the gauge identified by name and labels to v.
func SetGauge(name string, labels map[string]string, v float64) { gauge(name, labels).Set(v) }

// ObserveSummary records v into the summary identified by name and labels.
func ObserveSummary(name string, labels map[string]string, v float64) {
	s.mu.Lock()
	sm, ok := s.summaries[name]
	if !ok {
		sm = prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       name,
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, labelKeys(labels))
		s.reg.MustRegister(sm)
		s.summaries[name] = sm
	}
	s.mu.Unlock()
	sm.With(prometheus.Labels(labels)).Observe(v)
}

// DumpProm renders the registry in the prometheus text exposition format.
func DumpProm() string {
	s.mu.Lock()
	reg := s.reg
	s.mu.Unlock()
	fams, err := reg.Gather()
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	for _, f := range fams {
		if _, err := expfmt.MetricFamilyToText(&buf, f); err != nil {
			return buf.String()
		}
	}
	return buf.String()
}
