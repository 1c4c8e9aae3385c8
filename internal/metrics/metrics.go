// Package metrics is the contract components use to emit measurements. The
// in-memory Registry backs the admin endpoint; exporting is left to whoever
// scrapes it.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Recorder receives measurements.
type Recorder interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveDuration(name string, labels map[string]string, d time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) IncCounter(string, map[string]string, float64)            {}
func (Nop) SetGauge(string, map[string]string, float64)              {}
func (Nop) ObserveDuration(string, map[string]string, time.Duration) {}

// OrNop returns r or a no-op recorder when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

type Point struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

type Snapshot struct {
	Counters []Point `json:"counters"`
	Gauges   []Point `json:"gauges"`
}

type entry struct {
	name   string
	labels map[string]string
	value  float64
}

// Registry keeps counters and gauges in memory. Durations are recorded as a
// pair of counters, <name>_seconds_sum and <name>_count.
type Registry struct {
	mu       sync.Mutex
	counters map[string]entry
	gauges   map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]entry),
		gauges:   make(map[string]entry),
	}
}

func (r *Registry) IncCounter(name string, labels map[string]string, delta float64) {
	if delta == 0 {
		return
	}
	k, lcopy := key(name, labels)

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.counters[k]
	if e.name == "" {
		e = entry{name: name, labels: lcopy}
	}
	e.value += delta
	r.counters[k] = e
}

func (r *Registry) SetGauge(name string, labels map[string]string, value float64) {
	k, lcopy := key(name, labels)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[k] = entry{name: name, labels: lcopy, value: value}
}

func (r *Registry) ObserveDuration(name string, labels map[string]string, d time.Duration) {
	r.IncCounter(name+"_seconds_sum", labels, d.Seconds())
	r.IncCounter(name+"_count", labels, 1)
}

// Counter returns the current value of a counter, zero when absent.
func (r *Registry) Counter(name string, labels map[string]string) float64 {
	k, _ := key(name, labels)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[k].value
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := Snapshot{
		Counters: make([]Point, 0, len(r.counters)),
		Gauges:   make([]Point, 0, len(r.gauges)),
	}
	for _, e := range r.counters {
		out.Counters = append(out.Counters, Point{Name: e.name, Labels: clone(e.labels), Value: e.value})
	}
	for _, e := range r.gauges {
		out.Gauges = append(out.Gauges, Point{Name: e.name, Labels: clone(e.labels), Value: e.value})
	}
	sort.Slice(out.Counters, func(i, j int) bool { return less(out.Counters[i], out.Counters[j]) })
	sort.Slice(out.Gauges, func(i, j int) bool { return less(out.Gauges[i], out.Gauges[j]) })
	return out
}

func less(a, b Point) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	ka, _ := key(a.Name, a.Labels)
	kb, _ := key(b.Name, b.Labels)
	return ka < kb
}

func key(name string, labels map[string]string) (string, map[string]string) {
	if len(labels) == 0 {
		return name, nil
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, name)
	lcopy := make(map[string]string, len(labels))
	for _, k := range keys {
		lcopy[k] = labels[k]
		parts = append(parts, k+"="+labels[k])
	}
	return strings.Join(parts, "|"), lcopy
}

func clone(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
