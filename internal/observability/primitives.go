package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Prometheus text exposition for the handful of series this service keeps.

type collector interface {
	WritePrometheus(w io.Writer) error
}

type CounterVec struct {
	name, help string
	labels     []string
	mu         sync.Mutex
	values     map[string]float64
}

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{name: name, help: help, labels: labels, values: map[string]float64{}}
}

func (c *CounterVec) Inc(values ...string) { c.Add(1, values...) }

func (c *CounterVec) Add(v float64, values ...string) {
	if c == nil {
		return
	}
	key := labelString(c.labels, values)
	c.mu.Lock()
	c.values[key] += v
	c.mu.Unlock()
}

// Value returns the current value of one series; used by tests.
func (c *CounterVec) Value(values ...string) float64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[labelString(c.labels, values)]
}

func (c *CounterVec) WritePrometheus(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeSeries(w, c.name, c.help, "counter", c.values)
}

type GaugeVec struct {
	name, help string
	labels     []string
	mu         sync.Mutex
	values     map[string]float64
}

func NewGaugeVec(name, help string, labels []string) *GaugeVec {
	return &GaugeVec{name: name, help: help, labels: labels, values: map[string]float64{}}
}

func (g *GaugeVec) Set(v float64, values ...string) {
	if g == nil {
		return
	}
	key := labelString(g.labels, values)
	g.mu.Lock()
	g.values[key] = v
	g.mu.Unlock()
}

func (g *GaugeVec) Add(v float64, values ...string) {
	if g == nil {
		return
	}
	key := labelString(g.labels, values)
	g.mu.Lock()
	g.values[key] += v
	g.mu.Unlock()
}

func (g *GaugeVec) WritePrometheus(w io.Writer) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return writeSeries(w, g.name, g.help, "gauge", g.values)
}

type HistogramVec struct {
	name, help string
	labels     []string
	buckets    []float64
	mu         sync.Mutex
	values     map[string]*histogram
}

type histogram struct {
	counts []uint64 // cumulative per bucket, last is +Inf
	sum    float64
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) *HistogramVec {
	if len(buckets) == 0 {
		buckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}
	}
	return &HistogramVec{name: name, help: help, labels: labels, buckets: buckets, values: map[string]*histogram{}}
}

func (h *HistogramVec) Observe(v float64, values ...string) {
	if h == nil {
		return
	}
	key := labelString(h.labels, values)
	h.mu.Lock()
	defer h.mu.Unlock()
	hist, ok := h.values[key]
	if !ok {
		hist = &histogram{counts: make([]uint64, len(h.buckets)+1)}
		h.values[key] = hist
	}
	hist.sum += v
	for i, b := range h.buckets {
		if v <= b {
			hist.counts[i]++
		}
	}
	hist.counts[len(h.buckets)]++
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name); err != nil {
		return err
	}
	for _, key := range sortedKeys(h.values) {
		hist := h.values[key]
		for i, b := range h.buckets {
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(key, fmt.Sprintf("%g", b)), hist.counts[i]); err != nil {
				return err
			}
		}
		total := hist.counts[len(h.buckets)]
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n%s_sum%s %g\n%s_count%s %d\n",
			h.name, withLe(key, "+Inf"), total, h.name, key, hist.sum, h.name, key, total); err != nil {
			return err
		}
	}
	return nil
}

func writeSeries(w io.Writer, name, help, kind string, values map[string]float64) error {
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind); err != nil {
		return err
	}
	for _, key := range sortedKeys(values) {
		if _, err := fmt.Fprintf(w, "%s%s %g\n", name, key, values[key]); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func labelString(names, values []string) string {
	if len(names) == 0 {
		return ""
	}
	parts := make([]string, len(names))
	for i, name := range names {
		val := "unknown"
		if i < len(values) && values[i] != "" {
			val = values[i]
		}
		parts[i] = name + `="` + escapeLabel(val) + `"`
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func escapeLabel(v string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(v)
}

func withLe(labels, le string) string {
	if labels == "" {
		return `{le="` + le + `"}`
	}
	return strings.TrimSuffix(labels, "}") + `,le="` + le + `"}`
}
