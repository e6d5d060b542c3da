// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-secretvault.
//
// go-secretvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusAdapter implements the Adapter interface backed by a Prometheus
// registry. Counters and histograms are created lazily on first use and
// cached by metric name.
type PrometheusAdapter struct {
	registerer prometheus.Registerer
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusAdapter creates a Prometheus-backed metrics adapter. If
// registerer is nil, the default registerer is used.
func NewPrometheusAdapter(registerer prometheus.Registerer) *PrometheusAdapter {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &PrometheusAdapter{
		registerer: registerer,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// IncCounter increments the named counter by 1.
func (p *PrometheusAdapter) IncCounter(name string, labels map[string]string) {
	p.counter(name, labelKeys(labels)).With(labels).Inc()
}

// ObserveDuration records a duration observation in seconds.
func (p *PrometheusAdapter) ObserveDuration(name string, d time.Duration, labels map[string]string) {
	p.histogram(name, labelKeys(labels)).With(labels).Observe(d.Seconds())
}

func (p *PrometheusAdapter) counter(name string, keys []string) *prometheus.CounterVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: sanitize(name),
		Help: name,
	}, keys)
	p.registerer.MustRegister(c)
	p.counters[name] = c
	return c
}

func (p *PrometheusAdapter) histogram(name string, keys []string) *prometheus.HistogramVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.histograms[name]; ok {
		return h
	}
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    sanitize(name),
		Help:    name,
		Buckets: prometheus.DefBuckets,
	}, keys)
	p.registerer.MustRegister(h)
	p.histograms[name] = h
	return h
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	return keys
}

// sanitize converts dotted metric names to the underscore form Prometheus
// requires.
func sanitize(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}
